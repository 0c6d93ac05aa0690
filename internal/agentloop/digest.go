package agentloop

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomkernel/loom/internal/providers"
)

const (
	historyChunkSize = 10
	toolLogChunkSize = 20
	// DefaultReplayRatio is used when a /digest request omits replay_ratio.
	DefaultReplayRatio = 0.15
)

// DigestResult is the response shape for POST /digest (spec.md §6).
type DigestResult struct {
	Status          string
	ChunksProcessed int
	Replays         int
	Provider        string
}

type chunk struct {
	kind string // "history" | "tool"
	text string
}

// Digest consolidates new experience since the last pass into the learnings
// document, replaying a sample of already-consolidated chunks alongside it
// (spec.md §4.4 "Digest").
func (r *Runner) Digest(ctx context.Context, providerOverride string, replayRatio float64) (DigestResult, error) {
	if replayRatio <= 0 {
		replayRatio = DefaultReplayRatio
	}

	history, err := r.store.LoadHistory()
	if err != nil {
		return DigestResult{}, err
	}
	logEntries, err := r.store.LoadLog()
	if err != nil {
		return DigestResult{}, err
	}
	cursors, err := r.store.LoadCursors(len(history), len(logEntries))
	if err != nil {
		return DigestResult{}, err
	}

	newHistoryChunks := chunkHistory(history[cursors.HistoryCursor:])
	newToolChunks := chunkToolLog(logEntries[cursors.ToolCursor:])
	newChunks := append(append([]chunk{}, newHistoryChunks...), newToolChunks...)

	priorHistoryChunks := chunkHistory(history[:cursors.HistoryCursor])
	priorToolChunks := chunkToolLog(logEntries[:cursors.ToolCursor])
	pool := append(append([]chunk{}, priorHistoryChunks...), priorToolChunks...)

	if len(newChunks) == 0 && len(pool) == 0 {
		return DigestResult{Status: "nothing_new"}, nil
	}

	replayCount := int(math.Ceil(float64(len(newChunks)) * replayRatio))
	replay := sampleWithoutReplacement(pool, replayCount)

	provider, err := providers.Resolve(providerOverride)
	if err != nil {
		return DigestResult{}, err
	}

	learnings, err := r.store.LoadLearnings()
	if err != nil {
		return DigestResult{}, err
	}
	brain, err := r.loadBrain()
	if err != nil {
		return DigestResult{}, err
	}

	processed := 0
	for _, c := range append(append([]chunk{}, newChunks...), replay...) {
		updated, err := digestChunk(ctx, provider, learnings, brain, c)
		if err != nil {
			// Per-chunk failures log and continue; cursors only advance at
			// pass end (spec.md §7 "Digest").
			_ = r.store.AppendLog(LogEntry{Type: "thinking", Data: map[string]any{
				"digest_error": err.Error(),
			}})
			continue
		}
		learnings = updated
		if err := r.store.SaveLearnings(learnings); err != nil {
			return DigestResult{}, fmt.Errorf("persist learnings: %w", err)
		}
		processed++
	}

	cursors.HistoryCursor = len(history)
	cursors.ToolCursor = len(logEntries)
	if err := r.store.SaveCursors(cursors); err != nil {
		return DigestResult{}, err
	}
	_ = r.store.AppendLog(LogEntry{Type: "digest", Data: map[string]any{
		"new_chunks": len(newChunks),
		"replays":    len(replay),
		"learnings_length": len(learnings),
	}})

	return DigestResult{
		Status:          "completed",
		ChunksProcessed: processed,
		Replays:         len(replay),
		Provider:        provider.Name(),
	}, nil
}

func chunkHistory(msgs []HistoryMessage) []chunk {
	var chunks []chunk
	for i := 0; i < len(msgs); i += historyChunkSize {
		end := i + historyChunkSize
		if end > len(msgs) {
			end = len(msgs)
		}
		var b strings.Builder
		for _, m := range msgs[i:end] {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		chunks = append(chunks, chunk{kind: "history", text: b.String()})
	}
	return chunks
}

func chunkToolLog(entries []LogEntry) []chunk {
	var chunks []chunk
	for i := 0; i < len(entries); i += toolLogChunkSize {
		end := i + toolLogChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		var b strings.Builder
		for _, e := range entries[i:end] {
			fmt.Fprintf(&b, "[%s] %v\n", e.Type, e.Data)
		}
		chunks = append(chunks, chunk{kind: "tool", text: b.String()})
	}
	return chunks
}

// sampleWithoutReplacement picks n chunks uniformly at random from pool,
// without replacement, preserving pool order in the result (spec.md §4.4
// "replay sample ... uniformly without replacement").
func sampleWithoutReplacement(pool []chunk, n int) []chunk {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	idx := rand.Perm(len(pool))[:n]
	sort.Ints(idx)
	out := make([]chunk, 0, n)
	for _, i := range idx {
		out = append(out, pool[i])
	}
	return out
}

const digestPromptTemplate = `You are consolidating experience into a persistent learnings document.

Existing learnings (preserve unchanged entries):
%s

Agent brain / identity context:
%s

New experience chunk (%s):
%s

Return the full, updated learnings document in markdown.`

func digestChunk(ctx context.Context, provider providers.Provider, learnings, brain string, c chunk) (string, error) {
	prompt := fmt.Sprintf(digestPromptTemplate, learnings, brain, c.kind, c.text)
	reply, err := provider.Converse(ctx, []providers.Message{{Role: providers.RoleUser, Text: prompt}}, nil)
	if err != nil {
		return "", err
	}
	if reply.Text == "" {
		return learnings, nil
	}
	return reply.Text, nil
}

// loadBrain concatenates any markdown files under the store's brain/
// subdirectory, giving the digester persistent identity context alongside
// the learnings document.
func (r *Runner) loadBrain() (string, error) {
	dir := filepath.Join(r.store.dir, "brain")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String(), nil
}
