// helper.go: Helper goroutine
//
// One optional goroutine that drains the sample ring when producers wake it,
// snapshots counters once a second, and serves the command port. Its own
// events go through the profiler's internal thread handle.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

type helperState struct {
	p        *Profiler
	listener net.Listener
	conns    chan net.Conn
	stopCh   chan struct{}
	done     chan struct{}
	port     int
}

// startHelper launches the helper goroutine, binding the command port first
// so the writer can record it in the file header.
func startHelper(p *Profiler) (*helperState, error) {
	h := &helperState{
		p:      p,
		conns:  make(chan net.Conn, 4),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if p.cfg.CommandPort != 0 {
		ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(commandPortNumber(p.cfg.CommandPort)))
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeCommandPort, "cannot bind command port")
		}
		h.listener = ln
		if addr, ok := ln.Addr().(*net.TCPAddr); ok {
			h.port = addr.Port
		}
		go h.acceptLoop()
	}

	go h.run()
	return h, nil
}

// commandPortNumber maps the "pick any port" convention (-1) to zero for
// net.Listen.
func commandPortNumber(configured int) int {
	if configured < 0 {
		return 0
	}
	return configured
}

func (h *helperState) acceptLoop() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return
		}
		select {
		case h.conns <- conn:
		case <-h.stopCh:
			_ = conn.Close()
			return
		}
	}
}

func (h *helperState) run() {
	defer close(h.done)

	p := h.p
	t := p.internal

	var wake chan struct{}
	if p.samples != nil {
		wake = p.samples.wake
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-wake:
			drainSamples(p, t)
		case conn := <-h.conns:
			h.handleConn(conn)
		case <-ticker.C:
			if p.counters != nil {
				p.counters.sample(t)
			}
			drainSamples(p, t)
		case <-h.stopCh:
			drainSamples(p, t)
			return
		}
	}
}

// handleConn serves one command connection. The only command is
// "heapshot\n".
func (h *helperState) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "heapshot":
			h.p.RequestHeapShot()
		case "":
		default:
			return
		}
	}
}

// stop shuts the helper down and waits for its final sample drain.
func (h *helperState) stop() {
	close(h.stopCh)
	if h.listener != nil {
		_ = h.listener.Close()
	}
	<-h.done
}
