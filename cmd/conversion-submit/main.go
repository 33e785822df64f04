package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/juno-intents/confidential-wrap/internal/conversion"
	"github.com/juno-intents/confidential-wrap/internal/queue"
)

type stringListFlag []string

func (f *stringListFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(*f, ",")
}

func (f *stringListFlag) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("value must not be empty")
	}
	*f = append(*f, v)
	return nil
}

func main() {
	if err := runMain(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runMain validates conversion requests and publishes them. Requests without an id get a
// random uuid, which is also used as the message key.
func runMain(args []string, stdin io.Reader, stdout io.Writer) error {
	var requestFiles stringListFlag
	fs := flag.NewFlagSet("conversion-submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	queueDriver := fs.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
	queueBrokers := fs.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
	topic := fs.String("topic", conversion.RequestVersion, "request topic")
	request := fs.String("request", "", "inline request JSON")
	fs.Var(&requestFiles, "request-file", "request file path (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*topic) == "" {
		return errors.New("--topic is required")
	}

	payloads, err := loadRequests(strings.TrimSpace(*request), requestFiles, stdin)
	if err != nil {
		return err
	}
	reqs := make([]conversion.Request, 0, len(payloads))
	for i, p := range payloads {
		req, err := conversion.ParseRequest(p)
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		reqs = append(reqs, req)
	}

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
		Writer:  stdout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = producer.Close() }()

	ctx := context.Background()
	for _, req := range reqs {
		b, err := conversion.EncodeRequest(req)
		if err != nil {
			return err
		}
		if err := producer.Publish(ctx, *topic, []byte(req.ID), b); err != nil {
			return err
		}
	}
	return nil
}

// loadRequests collects request payloads. Stdin, used only when no flag supplied one,
// holds one request per line.
func loadRequests(inline string, files []string, stdin io.Reader) ([][]byte, error) {
	payloads := make([][]byte, 0, len(files)+1)
	if inline != "" {
		payloads = append(payloads, []byte(inline))
	}
	for _, path := range files {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read request file %q: %w", path, err)
		}
		payloads = append(payloads, b)
	}
	if len(payloads) > 0 {
		return payloads, nil
	}
	if stdin == nil {
		return nil, errors.New("a request is required via --request, --request-file, or stdin")
	}
	sc := bufio.NewScanner(stdin)
	sc.Buffer(make([]byte, 1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		payloads = append(payloads, append([]byte(nil), line...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(payloads) == 0 {
		return nil, errors.New("a request is required via --request, --request-file, or stdin")
	}
	return payloads, nil
}
