// Package assistanttest provides an in-memory assistant.Client for tests.
package assistanttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/router-for-me/GPTHub/internal/apperr"
	"github.com/router-for-me/GPTHub/internal/assistant"
)

// Fake is a goroutine-safe in-memory assistant provider.
type Fake struct {
	mu sync.Mutex

	seq        int
	assistants map[string]assistant.AssistantInfo
	threads    map[string][]assistant.Message
	runs       map[string]*fakeRun
	files      map[string]assistant.File
	purposes   map[string]assistant.Tool
	attached   map[string][]assistant.Attachment
	// Non-image attachments per message; upstream keeps them out of content.
	msgFiles map[string][]assistant.Attachment

	// Reply produces the assistant text for a completed run given the last user text.
	Reply func(userText string) string
	// RunStatuses is the sequence of statuses reported by successive RetrieveRun calls.
	// The final entry repeats. Empty means the run completes immediately.
	RunStatuses []string
	// RunLastError is reported on failed runs.
	RunLastError string

	// Injected failures, keyed by method name.
	Failures map[string]error

	// Calls counts invocations by method name.
	Calls map[string]int
}

type fakeRun struct {
	threadID string
	polls    int
	replied  bool
}

// New returns an empty Fake that echoes user text.
func New() *Fake {
	return &Fake{
		assistants: make(map[string]assistant.AssistantInfo),
		threads:    make(map[string][]assistant.Message),
		runs:       make(map[string]*fakeRun),
		files:      make(map[string]assistant.File),
		purposes:   make(map[string]assistant.Tool),
		attached:   make(map[string][]assistant.Attachment),
		msgFiles:   make(map[string][]assistant.Attachment),
		Reply:      func(userText string) string { return "echo: " + userText },
		Failures:   make(map[string]error),
		Calls:      make(map[string]int),
	}
}

// AddAssistant registers an upstream assistant.
func (f *Fake) AddAssistant(info assistant.AssistantInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistants[info.ID] = info
}

// Fail makes the named method return err until cleared with a nil err.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Failures, method)
		return
	}
	f.Failures[method] = err
}

// CallCount returns how many times method was invoked.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

// HasThread reports whether the thread exists upstream.
func (f *Fake) HasThread(threadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.threads[threadID]
	return ok
}

// ThreadCount returns the number of live threads.
func (f *Fake) ThreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.threads)
}

// HasFile reports whether a stored file exists.
func (f *Fake) HasFile(fileID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[fileID]
	return ok
}

// UploadTool returns the tool a stored file was uploaded for.
func (f *Fake) UploadTool(fileID string) assistant.Tool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purposes[fileID]
}

// MessageAttachments returns the tool attachments posted with a message.
func (f *Fake) MessageAttachments(messageID string) []assistant.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assistant.Attachment(nil), f.msgFiles[messageID]...)
}

// AttachedTool reports the tool a file was attached to on an assistant.
func (f *Fake) AttachedTool(assistantID, fileID string) (assistant.Tool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, att := range f.attached[assistantID] {
		if att.FileID == fileID {
			return att.Tool, true
		}
	}
	return "", false
}

// Messages returns a copy of the thread's messages.
func (f *Fake) Messages(threadID string) []assistant.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assistant.Message(nil), f.threads[threadID]...)
}

func (f *Fake) enter(method string) error {
	f.Calls[method]++
	return f.Failures[method]
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

// RetrieveAssistant implements assistant.Client.
func (f *Fake) RetrieveAssistant(_ context.Context, assistantID string) (assistant.AssistantInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrieveAssistant"); err != nil {
		return assistant.AssistantInfo{}, err
	}
	info, ok := f.assistants[assistantID]
	if !ok {
		return assistant.AssistantInfo{}, apperr.New(apperr.KindNotFound, "assistant %s not found", assistantID)
	}
	return info, nil
}

// CreateThread implements assistant.Client.
func (f *Fake) CreateThread(_ context.Context, seed []assistant.NewMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateThread"); err != nil {
		return "", err
	}
	id := f.nextID("thread")
	f.threads[id] = nil
	for _, msg := range seed {
		// Seeds are posted one by one, so a PostMessage failure leaves the thread behind.
		if err := f.Failures["PostMessage"]; err != nil {
			return id, err
		}
		f.appendLocked(id, msg, "")
	}
	return id, nil
}

// DeleteThread implements assistant.Client.
func (f *Fake) DeleteThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteThread"); err != nil {
		return err
	}
	if _, ok := f.threads[threadID]; !ok {
		return apperr.New(apperr.KindNotFound, "thread %s not found", threadID)
	}
	delete(f.threads, threadID)
	return nil
}

// PostMessage implements assistant.Client.
func (f *Fake) PostMessage(_ context.Context, threadID string, msg assistant.NewMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PostMessage"); err != nil {
		return "", err
	}
	if _, ok := f.threads[threadID]; !ok {
		return "", apperr.New(apperr.KindNotFound, "thread %s not found", threadID)
	}
	return f.appendLocked(threadID, msg, ""), nil
}

func (f *Fake) appendLocked(threadID string, msg assistant.NewMessage, runID string) string {
	role := msg.Role
	if role == "" {
		role = assistant.RoleUser
	}
	out := assistant.Message{
		ID:        f.nextID("msg"),
		Role:      role,
		RunID:     runID,
		CreatedAt: time.Unix(int64(f.seq), 0).UTC(),
	}
	if msg.Text != "" {
		out.Content = append(out.Content, assistant.ContentPart{Type: assistant.PartText, Text: msg.Text})
	}
	for _, att := range msg.Attachments {
		if att.Tool == assistant.ToolVision {
			out.Content = append(out.Content, assistant.ContentPart{Type: assistant.PartImageFile, FileID: att.FileID})
			continue
		}
		if att.Tool == "" {
			att.Tool = assistant.ToolFileSearch
		}
		f.msgFiles[out.ID] = append(f.msgFiles[out.ID], att)
	}
	if len(msg.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Hidden = assistant.IsHiddenMetadata(out.Metadata)
	f.threads[threadID] = append(f.threads[threadID], out)
	return out.ID
}

// ListMessages implements assistant.Client.
func (f *Fake) ListMessages(_ context.Context, threadID string) ([]assistant.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListMessages"); err != nil {
		return nil, err
	}
	msgs, ok := f.threads[threadID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "thread %s not found", threadID)
	}
	return append([]assistant.Message(nil), msgs...), nil
}

// CreateRun implements assistant.Client.
func (f *Fake) CreateRun(_ context.Context, threadID string, _ assistant.RunRequest) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateRun"); err != nil {
		return assistant.Run{}, err
	}
	if _, ok := f.threads[threadID]; !ok {
		return assistant.Run{}, apperr.New(apperr.KindNotFound, "thread %s not found", threadID)
	}
	id := f.nextID("run")
	run := &fakeRun{threadID: threadID}
	f.runs[id] = run
	return f.observeLocked(id, run, false), nil
}

// RetrieveRun implements assistant.Client.
func (f *Fake) RetrieveRun(_ context.Context, threadID, runID string) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrieveRun"); err != nil {
		return assistant.Run{}, err
	}
	run, ok := f.runs[runID]
	if !ok || run.threadID != threadID {
		return assistant.Run{}, apperr.New(apperr.KindNotFound, "run %s not found", runID)
	}
	return f.observeLocked(runID, run, true), nil
}

// observeLocked reports the run's current status; polled observations advance the script.
func (f *Fake) observeLocked(runID string, run *fakeRun, polled bool) assistant.Run {
	status := assistant.StatusQueued
	if len(f.RunStatuses) == 0 {
		status = assistant.StatusCompleted
	} else {
		if polled {
			run.polls++
		}
		if run.polls > 0 {
			idx := run.polls - 1
			if idx >= len(f.RunStatuses) {
				idx = len(f.RunStatuses) - 1
			}
			status = f.RunStatuses[idx]
		}
	}
	out := assistant.Run{ID: runID, Status: status}
	switch status {
	case assistant.StatusCompleted:
		if !run.replied {
			run.replied = true
			f.appendLocked(run.threadID, assistant.NewMessage{
				Role: assistant.RoleAssistant,
				Text: f.Reply(f.lastUserTextLocked(run.threadID)),
			}, runID)
		}
	case assistant.StatusFailed:
		out.LastError = f.RunLastError
	}
	return out
}

func (f *Fake) lastUserTextLocked(threadID string) string {
	msgs := f.threads[threadID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == assistant.RoleUser && !msgs[i].Hidden {
			return msgs[i].Text()
		}
	}
	return ""
}

// UploadFile implements assistant.Client.
func (f *Fake) UploadFile(_ context.Context, file assistant.FileUpload) (assistant.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UploadFile"); err != nil {
		return assistant.File{}, err
	}
	out := assistant.File{
		ID:        f.nextID("file"),
		Filename:  file.Name,
		Bytes:     int64(len(file.Data)),
		CreatedAt: time.Unix(int64(f.seq), 0).UTC(),
	}
	f.files[out.ID] = out
	f.purposes[out.ID] = file.Tool
	return out, nil
}

// DeleteFile implements assistant.Client.
func (f *Fake) DeleteFile(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteFile"); err != nil {
		return err
	}
	if _, ok := f.files[fileID]; !ok {
		return apperr.New(apperr.KindNotFound, "file %s not found", fileID)
	}
	delete(f.files, fileID)
	return nil
}

// AttachAssistantFile implements assistant.Client. Like the real adapter,
// anything not bound for the code interpreter lands in file search.
func (f *Fake) AttachAssistantFile(_ context.Context, assistantID string, att assistant.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AttachAssistantFile"); err != nil {
		return err
	}
	if _, ok := f.files[att.FileID]; !ok {
		return apperr.New(apperr.KindNotFound, "file %s not found", att.FileID)
	}
	if att.Tool != assistant.ToolCodeInterpreter {
		att.Tool = assistant.ToolFileSearch
	}
	for _, existing := range f.attached[assistantID] {
		if existing.FileID == att.FileID {
			return nil
		}
	}
	f.attached[assistantID] = append(f.attached[assistantID], att)
	return nil
}

// DetachAssistantFile implements assistant.Client.
func (f *Fake) DetachAssistantFile(_ context.Context, assistantID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DetachAssistantFile"); err != nil {
		return err
	}
	atts := f.attached[assistantID]
	for i, att := range atts {
		if att.FileID == fileID {
			f.attached[assistantID] = append(atts[:i:i], atts[i+1:]...)
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "file %s not attached", fileID)
}

// ListAssistantFiles implements assistant.Client.
func (f *Fake) ListAssistantFiles(_ context.Context, assistantID string) ([]assistant.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListAssistantFiles"); err != nil {
		return nil, err
	}
	out := make([]assistant.File, 0, len(f.attached[assistantID]))
	for _, att := range f.attached[assistantID] {
		if file, ok := f.files[att.FileID]; ok {
			out = append(out, file)
			continue
		}
		out = append(out, assistant.File{ID: att.FileID})
	}
	return out, nil
}

var _ assistant.Client = (*Fake)(nil)
