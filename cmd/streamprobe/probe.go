package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type probeOptions struct {
	BaseURL        string
	Token          string
	ConversationID uint
	Concurrency    int
	Timeout        time.Duration
	Pause          time.Duration
}

type ResultItem struct {
	Index           int    `json:"index"`
	Query           string `json:"query"`
	Status          int    `json:"status"`
	ConversationID  string `json:"conversation_id,omitempty"`
	FirstFragmentMs int64  `json:"first_fragment_ms"`
	TotalMs         int64  `json:"total_ms"`
	Bytes           int    `json:"bytes"`
	Aborted         bool   `json:"aborted"` // reply ended with the in-band error marker
	Error           string `json:"error,omitempty"`
	Timestamp       string `json:"timestamp"`
}

type RunSummary struct {
	RunID              string       `json:"run_id"`
	StartedAt          string       `json:"started_at"`
	EndedAt            string       `json:"ended_at"`
	BaseURL            string       `json:"base_url"`
	Concurrency        int          `json:"concurrency"`
	TotalQueries       int          `json:"total_queries"`
	Succeeded          int          `json:"succeeded"`
	Failed             int          `json:"failed"`
	FirstFragmentP50Ms int64        `json:"first_fragment_p50_ms"`
	FirstFragmentP95Ms int64        `json:"first_fragment_p95_ms"`
	TotalP50Ms         int64        `json:"total_p50_ms"`
	TotalP95Ms         int64        `json:"total_p95_ms"`
	Results            []ResultItem `json:"results"`
}

const errorMarker = "[Error: Connection with AI failed]"

// readQueries accepts ["q1", ...] or [{"q": "..."}, ...]. With no path it
// looks in the usual locations.
func readQueries(path string) ([]string, error) {
	candidates := []string{path}
	if path == "" {
		candidates = []string{
			"cmd/streamprobe/queries.json",
			"queries.json",
			filepath.Join(filepath.Dir(os.Args[0]), "queries.json"),
		}
	}

	var data []byte
	var err error
	for _, p := range candidates {
		if b, e := os.ReadFile(p); e == nil {
			data = b
			err = nil
			break
		} else {
			err = e
		}
	}
	if data == nil {
		return nil, fmt.Errorf("cannot read queries.json: %w", err)
	}

	var arrAny []any
	if e := json.Unmarshal(data, &arrAny); e != nil {
		return nil, fmt.Errorf("invalid queries.json: %w", e)
	}
	out := make([]string, 0, len(arrAny))
	for _, v := range arrAny {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if qv, ok := t["q"].(string); ok && strings.TrimSpace(qv) != "" {
				out = append(out, strings.TrimSpace(qv))
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("queries.json is empty or malformed")
	}
	return out, nil
}

func runProbe(ctx context.Context, opts probeOptions, queries []string) []ResultItem {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	results := make([]ResultItem, len(queries))
	client := &http.Client{}

	var next int
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Concurrency; w++ {
		g.Go(func() error {
			for {
				mu.Lock()
				i := next
				next++
				mu.Unlock()
				if i >= len(queries) || ctx.Err() != nil {
					return nil
				}
				r := probeOnce(ctx, client, opts, queries[i])
				if r.Status == http.StatusTooManyRequests {
					// one quota-aware retry
					time.Sleep(retryDelay(r.Error))
					r = probeOnce(ctx, client, opts, queries[i])
				}
				r.Index = i
				results[i] = r
				log.Info().Int("i", i).Int("status", r.Status).Int64("ttff_ms", r.FirstFragmentMs).
					Int64("total_ms", r.TotalMs).Bool("aborted", r.Aborted).Str("error", r.Error).Msg(truncate(r.Query, 48))
				if opts.Pause > 0 {
					time.Sleep(opts.Pause)
				}
			}
		})
	}
	_ = g.Wait()
	return results
}

func probeOnce(ctx context.Context, client *http.Client, opts probeOptions, query string) ResultItem {
	r := ResultItem{Query: query, Timestamp: time.Now().Format(time.RFC3339), FirstFragmentMs: -1}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	url := strings.TrimRight(opts.BaseURL, "/") + "/conversations/messages"
	if opts.ConversationID != 0 {
		url = fmt.Sprintf("%s/conversations/%d/messages", strings.TrimRight(opts.BaseURL, "/"), opts.ConversationID)
	}
	body, _ := json.Marshal(map[string]string{"message": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		r.Error = err.Error()
		return r
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	t0 := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		r.Error = err.Error()
		r.TotalMs = time.Since(t0).Milliseconds()
		return r
	}
	defer resp.Body.Close()
	r.Status = resp.StatusCode
	r.ConversationID = resp.Header.Get("X-Conversation-Id")

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		r.Error = strings.TrimSpace(string(msg))
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			r.Error += " retry-after=" + ra
		}
		r.TotalMs = time.Since(t0).Milliseconds()
		return r
	}

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if r.FirstFragmentMs < 0 {
				r.FirstFragmentMs = time.Since(t0).Milliseconds()
			}
			sb.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			r.Error = err.Error()
			break
		}
	}
	r.TotalMs = time.Since(t0).Milliseconds()
	r.Bytes = sb.Len()
	r.Aborted = strings.HasSuffix(sb.String(), errorMarker)
	return r
}

func retryDelay(errStr string) time.Duration {
	if i := strings.Index(errStr, "retry-after="); i >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(errStr[i+len("retry-after="):])); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 5 * time.Second
}

func summarize(runID string, started time.Time, opts probeOptions, results []ResultItem) RunSummary {
	s := RunSummary{
		RunID:        runID,
		StartedAt:    started.Format(time.RFC3339),
		EndedAt:      time.Now().Format(time.RFC3339),
		BaseURL:      opts.BaseURL,
		Concurrency:  opts.Concurrency,
		TotalQueries: len(results),
		Results:      results,
	}
	var ttff, total []int64
	for _, r := range results {
		if r.Status != http.StatusOK || r.Error != "" || r.Aborted {
			s.Failed++
			continue
		}
		s.Succeeded++
		if r.FirstFragmentMs >= 0 {
			ttff = append(ttff, r.FirstFragmentMs)
		}
		total = append(total, r.TotalMs)
	}
	s.FirstFragmentP50Ms = percentile(ttff, 50)
	s.FirstFragmentP95Ms = percentile(ttff, 95)
	s.TotalP50Ms = percentile(total, 50)
	s.TotalP95Ms = percentile(total, 95)
	return s
}

// percentile uses the nearest-rank method; it returns 0 for no samples.
func percentile(samples []int64, p int) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func writeCSV(path string, items []ResultItem) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	_ = w.Write([]string{"index", "query", "status", "conversation_id", "first_fragment_ms", "total_ms", "bytes", "aborted", "error"})
	for _, it := range items {
		_ = w.Write([]string{
			strconv.Itoa(it.Index),
			it.Query,
			strconv.Itoa(it.Status),
			it.ConversationID,
			strconv.FormatInt(it.FirstFragmentMs, 10),
			strconv.FormatInt(it.TotalMs, 10),
			strconv.Itoa(it.Bytes),
			strconv.FormatBool(it.Aborted),
			it.Error,
		})
	}
	w.Flush()
	return w.Error()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
