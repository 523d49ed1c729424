package backtest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fibswing-backtest/pkg/config"
	"github.com/fibswing-backtest/pkg/feed"
)

// Manifest identifies the inputs of a run so its outputs can be reproduced
type Manifest struct {
	RunID      string         `json:"run_id"`
	Symbol     string         `json:"symbol"`
	ConfigHash string         `json:"config_hash"`
	DataHash   string         `json:"data_hash"`
	Bars       int            `json:"bars"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	Config     *config.Config `json:"config"`
}

// NewManifest hashes the configuration and the bars. Credentials are not part
// of the hash or the stored config.
func NewManifest(cfg *config.Config, bars []feed.Bar) (*Manifest, error) {
	snapshot := *cfg
	snapshot.Feed = config.FeedConfig{}
	snapshot.LogLevel = ""

	configBytes, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	configHash := fmt.Sprintf("%x", sha256.Sum256(configBytes))
	dataHash := HashBars(bars)

	m := &Manifest{
		RunID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(configHash+":"+dataHash)).String(),
		Symbol:     cfg.Symbol,
		ConfigHash: configHash,
		DataHash:   dataHash,
		Bars:       len(bars),
		Config:     &snapshot,
	}
	if len(bars) > 0 {
		m.From = bars[0].Time.UTC()
		m.To = bars[len(bars)-1].Time.UTC()
	}
	return m, nil
}

// HashBars returns the sha256 of the bars' timestamps and exact float bits
func HashBars(bars []feed.Bar) string {
	h := sha256.New()
	buf := make([]byte, 8)
	write := func(u uint64) {
		binary.LittleEndian.PutUint64(buf, u)
		h.Write(buf)
	}
	for _, b := range bars {
		write(uint64(b.Time.UnixNano()))
		write(math.Float64bits(b.Open))
		write(math.Float64bits(b.High))
		write(math.Float64bits(b.Low))
		write(math.Float64bits(b.Close))
		write(math.Float64bits(b.Volume))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// tradeID derives the ID of the seq-th position of a run
func tradeID(runID uuid.UUID, seq int) string {
	return uuid.NewSHA1(runID, []byte(fmt.Sprintf("trade-%d", seq))).String()
}
