// bandfeed signs a price band with a feeder key and posts it to a node.
//
//	bandfeed -key <hex> -asset 0x... -mid 200000 -width 150 -seq 7
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nairex/nairex/pkg/crypto"
)

type bandRequest struct {
	Feeder     string `json:"feeder"`
	Asset      string `json:"asset"`
	MidE6      int64  `json:"midE6"`
	WidthBps   uint32 `json:"widthBps"`
	Ts         int64  `json:"ts"`
	Seq        uint64 `json:"seq"`
	Provenance string `json:"provenance,omitempty"`
	Signature  string `json:"signature"`
}

func main() {
	var (
		keyHex     = flag.String("key", os.Getenv("FEEDER_KEY"), "feeder private key hex")
		node       = flag.String("node", "http://localhost:8080", "node base URL")
		asset      = flag.String("asset", "", "asset token address")
		mid        = flag.Int64("mid", 0, "mid price, 6-decimal units")
		width      = flag.Uint("width", 150, "half-width in basis points")
		seq        = flag.Uint64("seq", 0, "feed sequence number")
		ts         = flag.Int64("ts", 0, "band timestamp (unix seconds, 0 = now)")
		provenance = flag.String("provenance", "", "32-byte hex feed message id")
	)
	flag.Parse()

	if *keyHex == "" || *asset == "" || *mid <= 0 {
		fmt.Fprintln(os.Stderr, "usage: bandfeed -key <hex> -asset 0x... -mid <e6> [-width bps] [-seq n]")
		os.Exit(2)
	}
	if *ts == 0 {
		*ts = time.Now().Unix()
	}

	signer, err := crypto.FromPrivateKeyHex(*keyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load key: %v\n", err)
		os.Exit(1)
	}

	msg := fmt.Sprintf("band|%s|%d|%d|%d|%d", strings.ToLower(*asset), *mid, *width, *ts, *seq)
	sig, err := signer.SignMessage([]byte(msg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}

	req := bandRequest{
		Feeder:     signer.Address().Hex(),
		Asset:      *asset,
		MidE6:      *mid,
		WidthBps:   uint32(*width),
		Ts:         *ts,
		Seq:        *seq,
		Provenance: *provenance,
		Signature:  hexutil.Encode(sig),
	}
	body, _ := json.Marshal(req)

	resp, err := http.Post(*node+"/api/v1/oracle/band", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "post: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)

	fmt.Printf("feeder: %s\n", signer.Address().Hex())
	fmt.Printf("status: %s\n", resp.Status)
	fmt.Printf("body:   %s\n", strings.TrimSpace(string(out)))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
