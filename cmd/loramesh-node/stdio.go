package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/mesh"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
)

// stdioAdapter plays the host stack: deliveries are printed one per line.
type stdioAdapter struct {
	mu sync.Mutex
	w  io.Writer
}

func newStdioAdapter(w io.Writer) *stdioAdapter { return &stdioAdapter{w: w} }

func (a *stdioAdapter) DeliverUpward(from protocol.NodeAddr, payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.w, "<- %s %q\n", from, payload)
}

var errBadLine = errors.New("expected '<dst> <text>'")

// parseLine reads "<dst> <text>" where dst is decimal, 0x-hex or "bcast".
func parseLine(line string) (protocol.NodeAddr, []byte, error) {
	line = strings.TrimSpace(line)
	dst, text, ok := strings.Cut(line, " ")
	if !ok || text == "" {
		return 0, nil, errBadLine
	}
	if strings.EqualFold(dst, "bcast") {
		return protocol.Broadcast, []byte(text), nil
	}
	n, err := strconv.ParseUint(dst, 0, 8)
	if err != nil {
		return 0, nil, fmt.Errorf("bad destination %q: %w", dst, err)
	}
	return protocol.NodeAddr(n), []byte(text), nil
}

type transmitter interface {
	Transmit(ctx context.Context, dst protocol.NodeAddr, payload []byte) error
}

func readCommands(ctx context.Context, r io.Reader, tx transmitter) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		dst, payload, err := parseLine(sc.Text())
		if err != nil {
			zap.L().Warn("ignored input", zap.Error(err))
			continue
		}
		if err := tx.Transmit(ctx, dst, payload); err != nil {
			zap.L().Warn("transmit failed", zap.Stringer("dst", dst), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

var _ transmitter = (*mesh.Driver)(nil)
