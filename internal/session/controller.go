// Package session coordinates user queries, background jobs and the
// conversation store for the control surface (HTTP handlers, CLI).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dohr-michael/fintellix/internal/conversations"
	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/providers"
	"github.com/dohr-michael/fintellix/internal/settings"
	"github.com/dohr-michael/fintellix/internal/subjects"
	"github.com/dohr-michael/fintellix/internal/tasks"
)

// ErrorPrefix starts the assistant message recorded for a failed job.
const ErrorPrefix = "Sorry, I encountered an error: "

var (
	ErrEmptyQuery     = errors.New("query is empty")
	ErrNoCompetitors  = errors.New("no competitors given")
	ErrUnknownSubject = errors.New("no conversation for subject")
)

// Context is the controller's explicit session state.
type Context struct {
	Selected  subjects.Key        `json:"selected,omitempty"`
	Selection providers.Selection `json:"selection"`
}

// Config holds the collaborators of a Controller.
type Config struct {
	Store     conversations.Store
	Scheduler *tasks.Scheduler
	Registry  *providers.Registry
	Settings  *settings.Store // optional; selection is not persisted without it
	Bus       *events.Bus     // optional

	// OnNewSubject is called, outside the control lock, when a subject gets
	// its first message.
	OnNewSubject func(subjects.Key)
}

// SubmitResult describes what SubmitQuery did.
type SubmitResult struct {
	Subject subjects.Key          `json:"subject"`
	Message conversations.Message `json:"message"`
	Queued  bool                  `json:"queued"`
	TaskID  string                `json:"task_id,omitempty"`
}

// Controller is the single writer of conversation state. All public methods
// serialize on one control mutex, which is never held during a provider call.
type Controller struct {
	mu        sync.Mutex
	cfg       Config
	ctx       Context
	convs     map[subjects.Key]*conversations.Conversation

	// abandoned holds the task id of each job still in flight at the last
	// Clear. deferred holds a question asked while such a job blocked its
	// subject; it is submitted once the abandoned result is discarded.
	abandoned map[subjects.Key]string
	deferred  map[subjects.Key]tasks.Job
}

// New loads stored conversations and the persisted provider selection.
func New(cfg Config) *Controller {
	c := &Controller{
		cfg:       cfg,
		convs:     cfg.Store.Load(),
		abandoned: make(map[subjects.Key]string),
		deferred:  make(map[subjects.Key]tasks.Job),
	}
	c.ctx.Selection = c.initialSelection()
	slog.Info("session loaded", "subjects", len(c.convs),
		"provider", c.ctx.Selection.Provider, "model", c.ctx.Selection.Model)
	return c
}

func (c *Controller) initialSelection() providers.Selection {
	name, model := settings.DefaultProvider, ""
	if c.cfg.Settings != nil {
		cur := c.cfg.Settings.Current()
		name, model = cur.LLMProvider, cur.SelectedModel
	}

	p, err := c.cfg.Registry.Get(name)
	if err != nil {
		slog.Warn("stored provider unknown, using default", "provider", name, "error", err)
		p, err = c.cfg.Registry.Get(settings.DefaultProvider)
		if err != nil {
			return providers.Selection{Provider: name, Model: model}
		}
		model = ""
	}
	if model == "" {
		model = p.DefaultModel()
	}
	return providers.Selection{Provider: p.Name(), Model: model}
}

// Context returns a copy of the session state.
func (c *Controller) Context() Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// SubmitQuery records text as a user message for subject, persists it, then
// asks the scheduler for a job. When the subject is busy the message is kept
// but no second job is queued.
func (c *Controller) SubmitQuery(rawSubject, text string) (SubmitResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SubmitResult{}, ErrEmptyQuery
	}
	return c.submit(rawSubject, text, func(subject subjects.Key, sel providers.Selection) tasks.Job {
		return tasks.Job{Kind: tasks.KindAnalysis, Query: text, Selection: sel}
	})
}

// SubmitCompetitors queues a comparison of subject against competitors.
func (c *Controller) SubmitCompetitors(rawSubject string, competitors []string) (SubmitResult, error) {
	var comps []string
	for _, raw := range competitors {
		k, err := subjects.Normalize(raw)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("competitor: %w", err)
		}
		comps = append(comps, string(k))
	}
	if len(comps) == 0 {
		return SubmitResult{}, ErrNoCompetitors
	}

	subject, err := subjects.Normalize(rawSubject)
	if err != nil {
		return SubmitResult{}, err
	}
	text := tasks.CompetitorRequest(subject, comps)
	return c.submit(rawSubject, text, func(subject subjects.Key, sel providers.Selection) tasks.Job {
		return tasks.Job{Kind: tasks.KindCompetitors, Query: text, Competitors: comps, Selection: sel}
	})
}

func (c *Controller) submit(rawSubject, text string, job func(subjects.Key, providers.Selection) tasks.Job) (SubmitResult, error) {
	subject, err := subjects.Normalize(rawSubject)
	if err != nil {
		return SubmitResult{}, err
	}

	c.mu.Lock()

	// Land any finished result first so the log stays in call order.
	if _, err := c.tickLocked(subject); err != nil {
		slog.Error("persist drained result", "subject", subject, "error", err)
	}

	conv, created := c.conversationLocked(subject)
	msg := conv.Append(conversations.RoleUser, text)
	if err := c.cfg.Store.Save(c.convs); err != nil {
		conv.Messages = conv.Messages[:len(conv.Messages)-1]
		if created {
			delete(c.convs, subject)
		}
		c.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("persist user message: %w", err)
	}

	j := job(subject, c.ctx.Selection)
	taskID, queued := c.cfg.Scheduler.SubmitJob(subject, j)
	if !queued {
		if _, ok := c.abandoned[subject]; ok {
			c.deferred[subject] = j
		}
	}
	c.ctx.Selected = subject
	count := len(conv.Messages)
	c.mu.Unlock()

	if !queued {
		slog.Info("subject busy, query recorded without a new job", "subject", subject)
	}
	c.publishUpdate(subject, conversations.RoleUser, count)
	if created && c.cfg.OnNewSubject != nil {
		c.cfg.OnNewSubject(subject)
	}

	return SubmitResult{Subject: subject, Message: msg, Queued: queued, TaskID: taskID}, nil
}

// Tick drains a finished job for subject into its conversation. It reports
// whether a message was appended and is safe to call repeatedly.
func (c *Controller) Tick(rawSubject string) (bool, error) {
	subject, err := subjects.Normalize(rawSubject)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickLocked(subject)
}

// TickAll drains every finished job and returns how many were appended.
func (c *Controller) TickAll() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	n := 0
	for _, subject := range c.cfg.Scheduler.Terminal() {
		ok, err := c.tickLocked(subject)
		if ok {
			n++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return n, errors.Join(errs...)
}

// tickLocked must be called with c.mu held.
func (c *Controller) tickLocked(subject subjects.Key) (bool, error) {
	res, ok := c.cfg.Scheduler.Drain(subject)
	if !ok {
		return false, nil
	}
	if id, ok := c.abandoned[subject]; ok && id == res.TaskID {
		delete(c.abandoned, subject)
		slog.Debug("discarding result submitted before clear", "subject", subject, "task_id", res.TaskID)
		c.resubmitDeferredLocked(subject)
		return false, nil
	}

	content := res.Response
	if res.Failed() {
		content = ErrorPrefix + res.Error
	}

	conv, _ := c.conversationLocked(subject)
	conv.Append(conversations.RoleAssistant, content)
	count := len(conv.Messages)

	c.publishUpdate(subject, conversations.RoleAssistant, count)
	if err := c.cfg.Store.Save(c.convs); err != nil {
		return true, fmt.Errorf("persist assistant message: %w", err)
	}
	return true, nil
}

// resubmitDeferredLocked queues the question that waited behind an abandoned
// job. Must be called with c.mu held.
func (c *Controller) resubmitDeferredLocked(subject subjects.Key) {
	j, ok := c.deferred[subject]
	if !ok {
		return
	}
	delete(c.deferred, subject)
	taskID, queued := c.cfg.Scheduler.SubmitJob(subject, j)
	if !queued {
		slog.Warn("deferred query not resubmitted", "subject", subject)
		return
	}
	slog.Info("resubmitted query held behind a cleared job", "subject", subject, "task_id", taskID)
}

// conversationLocked returns the conversation for subject, creating it.
func (c *Controller) conversationLocked(subject subjects.Key) (*conversations.Conversation, bool) {
	if conv, ok := c.convs[subject]; ok {
		return conv, false
	}
	conv := &conversations.Conversation{Subject: subject, Messages: []conversations.Message{}}
	c.convs[subject] = conv
	return conv, true
}

// Poll reports the job state of subject without blocking.
func (c *Controller) Poll(rawSubject string) (tasks.Status, error) {
	subject, err := subjects.Normalize(rawSubject)
	if err != nil {
		return tasks.Status{}, err
	}
	return c.cfg.Scheduler.Poll(subject), nil
}

// Conversation returns a copy of subject's conversation.
func (c *Controller) Conversation(rawSubject string) (*conversations.Conversation, error) {
	subject, err := subjects.Normalize(rawSubject)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.convs[subject]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	return conv.Clone(), nil
}

// Subjects lists subjects with a conversation, oldest conversation first.
func (c *Controller) Subjects() []subjects.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]subjects.Key, 0, len(c.convs))
	for k := range c.convs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := c.convs[out[i]].StartedAt(), c.convs[out[j]].StartedAt()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i] < out[j]
	})
	return out
}

// Clear drops every conversation from memory and storage. Results of jobs
// in flight at the clear are discarded when they arrive; a question asked
// about such a subject in the meantime is submitted once its slot frees.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cfg.Store.Clear(); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	n := len(c.convs)
	c.convs = make(map[subjects.Key]*conversations.Conversation)
	c.ctx.Selected = ""
	c.abandoned = make(map[subjects.Key]string)
	c.deferred = make(map[subjects.Key]tasks.Job)
	for _, st := range c.cfg.Scheduler.Active() {
		if st.Busy() {
			c.abandoned[st.Subject] = st.TaskID
			continue
		}
		c.cfg.Scheduler.Drain(st.Subject)
	}

	c.cfg.Bus.Publish(events.NewTypedEvent(events.SourceSession, events.ConversationClearedPayload{Subjects: n}))
	slog.Info("conversations cleared", "subjects", n)
	return nil
}

// Select makes subject the active one. It must already have a conversation.
func (c *Controller) Select(rawSubject string) error {
	subject, err := subjects.Normalize(rawSubject)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.convs[subject]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	c.ctx.Selected = subject
	return nil
}

// SetProvider validates and activates a provider/model pair for future jobs
// and persists it. Jobs already queued keep the selection they were given.
func (c *Controller) SetProvider(ctx context.Context, name, model string) (providers.Selection, error) {
	// Select may list models over the network; keep it outside the lock.
	sel, err := c.cfg.Registry.Select(ctx, name, model)
	if err != nil {
		return providers.Selection{}, err
	}

	c.mu.Lock()
	c.ctx.Selection = sel
	c.mu.Unlock()

	if c.cfg.Settings != nil {
		if _, err := c.cfg.Settings.Update(func(s *settings.Settings) {
			s.LLMProvider = sel.Provider
			s.SelectedModel = sel.Model
		}); err != nil {
			return sel, fmt.Errorf("persist selection: %w", err)
		}
	}
	slog.Info("provider selected", "provider", sel.Provider, "model", sel.Model)
	return sel, nil
}

// SetSupplementary replaces the cached data blob of an existing conversation.
func (c *Controller) SetSupplementary(subject subjects.Key, data json.RawMessage) error {
	if len(data) > 0 && !json.Valid(data) {
		return fmt.Errorf("supplementary data for %s is not valid json", subject)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.convs[subject]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	conv.Data = conversations.CompactData(append(json.RawMessage(nil), data...))
	if err := c.cfg.Store.Save(c.convs); err != nil {
		return fmt.Errorf("persist supplementary data: %w", err)
	}
	return nil
}

func (c *Controller) publishUpdate(subject subjects.Key, role conversations.Role, count int) {
	c.cfg.Bus.Publish(events.NewSubjectEvent(events.SourceSession, string(subject), events.ConversationUpdatedPayload{
		Role:         string(role),
		MessageCount: count,
	}))
}
