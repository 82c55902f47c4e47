package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nairex/nairex/pkg/oracle"
)

// NopJournal discards band updates. Used when no audit trail is required;
// the oracle's seq guard still rejects non-increasing pushes.
type NopJournal struct{}

func NewNopJournal() *NopJournal                                 { return &NopJournal{} }
func (j *NopJournal) AppendBand(_ common.Address, _ oracle.Band) {}

// FileJournal is the append-only provenance log for oracle band updates.
// One line per accepted band, carrying the external feed message id so an
// auditor can tie every stored price back to its source.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) AppendBand(asset common.Address, b oracle.Band) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintf(j.f, "band asset=%s mid_e6=%d width_bps=%d ts=%d seq=%d src=%s\n",
		asset.Hex(), b.MidE6, b.WidthBps, b.Ts, b.Seq, hexutil.Encode(b.Provenance[:]))
}

func (j *FileJournal) Close() error { return j.f.Close() }

var _ oracle.Journal = (*NopJournal)(nil)
var _ oracle.Journal = (*FileJournal)(nil)
