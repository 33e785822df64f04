package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/juno-intents/confidential-wrap/internal/conversion"
)

const finalizeReq = `{"version":"conversions.request.v1","id":"fin-1","kind":"finalize","wrapper":"0x00000000000000000000000000000000000000c0","burntAmountHandle":"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`

func TestLoadRequests_InlineAndFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "req.json")
	if err := os.WriteFile(path, []byte(finalizeReq), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	payloads, err := loadRequests(finalizeReq, []string{path}, nil)
	if err != nil {
		t.Fatalf("loadRequests: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("payload count: got=%d want=2", len(payloads))
	}
}

func TestLoadRequests_StdinLines(t *testing.T) {
	t.Parallel()

	payloads, err := loadRequests("", nil, bytes.NewBufferString(finalizeReq+"\n\n"+finalizeReq+"\n"))
	if err != nil {
		t.Fatalf("loadRequests: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("payload count: got=%d want=2", len(payloads))
	}
}

func TestLoadRequests_EmptyInput(t *testing.T) {
	t.Parallel()

	if _, err := loadRequests("", nil, bytes.NewBufferString(" \n\t")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunMain_StdioPublishesNormalizedRequests(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runMain([]string{
		"--queue-driver", "stdio",
		"--request", `{"version":"conversions.request.v1","kind":"unshield","wrapper":"0x00000000000000000000000000000000000000c0","amount":"42"}`,
	}, nil, &out)
	if err != nil {
		t.Fatalf("runMain: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%q", lines)
	}
	req, err := conversion.ParseRequest([]byte(lines[0]))
	if err != nil {
		t.Fatalf("published request does not parse: %v", err)
	}
	if req.ID == "" || req.Amount.Int64() != 42 {
		t.Fatalf("req=%+v", req)
	}
}

func TestRunMain_RejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runMain([]string{"--queue-driver", "stdio", "--request", `{"version":"conversions.request.v1","kind":"unshield"}`}, nil, &out)
	if err == nil || !strings.Contains(err.Error(), "wrapper") {
		t.Fatalf("err=%v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("published invalid request: %s", out.String())
	}
}
