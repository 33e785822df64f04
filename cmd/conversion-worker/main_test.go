package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juno-intents/confidential-wrap/internal/conversion"
	"github.com/juno-intents/confidential-wrap/internal/queue"
)

type fakeHandler struct {
	mu      sync.Mutex
	got     []conversion.Request
	err     error
	resumes int
}

func (f *fakeHandler) Handle(_ context.Context, req conversion.Request) (conversion.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	if f.err != nil {
		return conversion.Result{}, f.err
	}
	return conversion.Result{Version: conversion.ResultVersion, ID: req.ID, Kind: req.Kind, Status: conversion.StatusSuccess, Phase: "success"}, nil
}

func (f *fakeHandler) ResumePending(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return 0, nil
}

func newTestWorker(t *testing.T, h handler, out io.Writer) *worker {
	t.Helper()
	p, err := queue.NewProducer(queue.ProducerConfig{Driver: queue.DriverStdio, Writer: out})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	return &worker{
		runner:         h,
		producer:       p,
		resultTopic:    conversion.ResultVersion,
		requestTimeout: time.Second,
		ackTimeout:     time.Second,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

const unshieldLine = `{"version":"conversions.request.v1","id":"req-1","kind":"unshield","wrapper":"0x00000000000000000000000000000000000000c0","amount":"42"}`

func TestWorker_RunPublishesResults(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{}
	var out bytes.Buffer
	w := newTestWorker(t, h, &out)

	in := strings.NewReader(unshieldLine + "\n" + "not json\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := queue.NewConsumer(ctx, queue.ConsumerConfig{Driver: queue.DriverStdio, Reader: in})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.run(ctx, c, time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop at end of input")
	}

	if len(h.got) != 1 || h.got[0].ID != "req-1" || h.got[0].Amount.Int64() != 42 {
		t.Fatalf("handled=%+v", h.got)
	}
	var res conversion.Result
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &res); err != nil {
		t.Fatalf("decode result %q: %v", out.String(), err)
	}
	if res.ID != "req-1" || res.Status != conversion.StatusSuccess || res.Version != conversion.ResultVersion {
		t.Fatalf("res=%+v", res)
	}
}

func TestWorker_HandleErrorPublishesErrorResultAndAcks(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{err: errors.New("lease store down")}
	var out bytes.Buffer
	w := newTestWorker(t, h, &out)

	acked := false
	msg := queue.NewMessage(conversion.RequestVersion, nil, []byte(unshieldLine), func(context.Context) error {
		acked = true
		return nil
	})
	w.handleMessage(context.Background(), msg)

	if !acked {
		t.Fatalf("message not acked after runner error")
	}
	var res conversion.Result
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &res); err != nil {
		t.Fatalf("decode result %q: %v", out.String(), err)
	}
	if res.ID != "req-1" || res.Kind != conversion.KindUnshield || res.Status != conversion.StatusError || res.Version != conversion.ResultVersion {
		t.Fatalf("res=%+v", res)
	}
	if !strings.Contains(res.Error, "lease store down") {
		t.Fatalf("error=%q", res.Error)
	}
}

func TestWorker_MalformedRequestIsAcked(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{}
	w := newTestWorker(t, h, io.Discard)

	acked := false
	w.handleMessage(context.Background(), queue.NewMessage("", nil, []byte(`{"version":"conversions.request.v1","kind":"unshield"}`), func(context.Context) error {
		acked = true
		return nil
	}))
	if !acked || len(h.got) != 0 {
		t.Fatalf("acked=%v handled=%d", acked, len(h.got))
	}
}

func TestWorker_ResumesOnTick(t *testing.T) {
	t.Parallel()

	h := &fakeHandler{}
	w := newTestWorker(t, h, io.Discard)

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := queue.NewConsumer(ctx, queue.ConsumerConfig{Driver: queue.DriverStdio, Reader: pr})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.run(ctx, c, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		n := h.resumes
		h.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("ResumePending never called")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
