package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Server implements agentloop.KernelClient by calling the kernel's own HTTP
// surface over the internal address -- the same contract a human client
// would use, just looped back in-process (spec.md §4.4 "dispatch back
// through the supervisor to the kernel for code/shell execution").

type execResponseError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type execResponse struct {
	Status string             `json:"status"`
	Stdout string             `json:"stdout"`
	Stderr string             `json:"stderr"`
	Error  *execResponseError `json:"error"`
}

type shellResponse struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
}

func (s *Server) ExecPython(ctx context.Context, code string) (stdout, stderr, errKind, errMessage string, failed bool, err error) {
	body, _ := json.Marshal(map[string]string{"code": code})
	var resp execResponse
	if err := s.postInternal(ctx, "/exec", body, &resp); err != nil {
		return "", "", "", "", false, err
	}
	if resp.Error != nil {
		errKind, errMessage = resp.Error.Type, resp.Error.Message
	}
	return resp.Stdout, resp.Stderr, errKind, errMessage, resp.Status == "failed", nil
}

func (s *Server) RunShell(ctx context.Context, command string) (stdout, stderr string, returncode int, err error) {
	body, _ := json.Marshal(map[string]string{"command": command})
	var resp shellResponse
	if err := s.postInternal(ctx, "/shell", body, &resp); err != nil {
		return "", "", -1, err
	}
	return resp.Stdout, resp.Stderr, resp.ReturnCode, nil
}

func (s *Server) Evolve(ctx context.Context) (string, error) {
	return s.evolve.Start()
}

func (s *Server) postInternal(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+s.internalAddr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Deliberately not s.httpClient: tool-dispatched execs and shell commands
	// run far past the 30s proxy window (shell alone is bounded at 300s by
	// the kernel), so the only deadline here is the caller's ctx.
	resp, err := s.toolClient.Do(req)
	if err != nil {
		return fmt.Errorf("kernel unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("kernel busy")
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
