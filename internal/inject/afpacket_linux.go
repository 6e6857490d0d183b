//go:build linux && cgo

package inject

import (
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/pseudoconn/internal/log"
)

// Open binds an AF_PACKET socket to cfg.Interface.
func Open(cfg Config) (*Sink, error) {
	cfg.applyDefaults()
	if cfg.Interface == "" {
		return nil, fmt.Errorf("inject: no interface configured")
	}
	r, err := ringFor(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("inject: %w", err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(r.frameSize),
		afpacket.OptBlockSize(r.blockSize),
		afpacket.OptNumBlocks(r.numBlocks),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("inject: open %s: %w", cfg.Interface, err)
	}

	s, err := newSink(cfg, tp)
	if err != nil {
		tp.Close()
		return nil, err
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"iface":      cfg.Interface,
		"frame_size": r.frameSize,
		"block_size": r.blockSize,
		"blocks":     r.numBlocks,
	}).Info("inject sink opened")
	return s, nil
}
