package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/session"
	"github.com/stemsi/exam-gateway/internal/snapshot"
)

// ErrStreamAttached is returned when a second signal stream is opened for a
// session. One stream drives the timer, so a second would double its speed.
var ErrStreamAttached = errors.New("a signal stream is already attached to this session")

// SnapshotReader loads a saved snapshot, or nil when none exists.
type SnapshotReader interface {
	Load(ctx context.Context, userID int, examID string) (*snapshot.Snapshot, error)
}

// SnapshotWriter persists or removes a snapshot.
type SnapshotWriter interface {
	Save(ctx context.Context, userID int, examID string, snap snapshot.Snapshot) error
	Delete(ctx context.Context, userID int, examID string) error
}

type sessionKey struct {
	userID int
	examID string
}

type sessionEntry struct {
	session *session.ExamSession

	// saveMu orders snapshot captures with their writes.
	saveMu sync.Mutex

	// stream is the signal stream holding this session's slot, if any.
	stream   *Stream
	lastUsed time.Time
}

// ExamSessionService owns one live ExamSession per (applicant, exam).
type ExamSessionService struct {
	transport session.ExamTransport
	reader    SnapshotReader
	writer    SnapshotWriter
	log       zerolog.Logger
	now       func() time.Time
	opts      []session.Option

	mu       sync.Mutex
	sessions map[sessionKey]*sessionEntry
}

// NewExamSessionService creates a new ExamSessionService. opts are applied to
// every session it creates.
func NewExamSessionService(
	transport session.ExamTransport,
	reader SnapshotReader,
	writer SnapshotWriter,
	log zerolog.Logger,
	opts ...session.Option,
) *ExamSessionService {
	s := &ExamSessionService{
		transport: transport,
		reader:    reader,
		writer:    writer,
		log:       log.With().Str("component", "exam_session_service").Logger(),
		now:       time.Now,
		sessions:  make(map[sessionKey]*sessionEntry),
	}
	s.opts = append([]session.Option{session.WithLogger(log)}, opts...)
	return s
}

// Open loads (or reloads) the exam for the applicant and re-applies a saved
// snapshot when one exists.
func (s *ExamSessionService) Open(ctx context.Context, userID int, examID string) (session.View, error) {
	const op = "open session"
	if err := validateID(op, "exam id", examID); err != nil {
		return session.View{}, err
	}

	key := sessionKey{userID, examID}
	entry, created := s.getOrCreate(key)

	if err := entry.session.LoadExam(ctx, examID); err != nil {
		if created {
			s.remove(key, entry)
		}
		return session.View{}, err
	}

	snap, err := s.reader.Load(ctx, userID, examID)
	if err != nil {
		s.log.Warn().Err(err).Int("user_id", userID).Str("exam_id", examID).Msg("Snapshot load failed, starting fresh")
	}
	if snap != nil {
		applied := entry.session.Resume(snap.Answers, snap.Index, snap.TabSwitches)
		s.log.Info().
			Int("user_id", userID).
			Str("exam_id", examID).
			Int("answers", applied).
			Int("index", snap.Index).
			Msg("Session resumed from snapshot")
	}

	return entry.session.Snapshot(), nil
}

// View returns the current state of an open session.
func (s *ExamSessionService) View(userID int, examID string) (session.View, error) {
	entry, err := s.lookup("get session", userID, examID)
	if err != nil {
		return session.View{}, err
	}
	return entry.session.Snapshot(), nil
}

// SelectAnswer stages a choice for a question.
func (s *ExamSessionService) SelectAnswer(ctx context.Context, userID int, examID, questionID, choiceID string) (session.View, error) {
	entry, err := s.lookup("select answer", userID, examID)
	if err != nil {
		return session.View{}, err
	}
	if err := entry.session.SelectAnswer(questionID, choiceID); err != nil {
		return session.View{}, err
	}
	return s.persist(ctx, sessionKey{userID, examID}, entry), nil
}

// SubmitAnswer sends the staged answer of the current question upstream.
func (s *ExamSessionService) SubmitAnswer(ctx context.Context, userID int, examID string) (*model.SubmitAnswerResponse, session.View, error) {
	entry, err := s.lookup("submit answer", userID, examID)
	if err != nil {
		return nil, session.View{}, err
	}
	resp, err := entry.session.SubmitAnswer(ctx)
	if err != nil {
		return nil, session.View{}, err
	}
	return resp, s.persist(ctx, sessionKey{userID, examID}, entry), nil
}

// Next moves to the following question; moved is false at the last question.
func (s *ExamSessionService) Next(ctx context.Context, userID int, examID string) (session.View, bool, error) {
	return s.navigate(ctx, "next question", userID, examID, (*session.ExamSession).NextQuestion)
}

// Previous moves to the preceding question.
func (s *ExamSessionService) Previous(ctx context.Context, userID int, examID string) (session.View, bool, error) {
	return s.navigate(ctx, "previous question", userID, examID, (*session.ExamSession).PreviousQuestion)
}

// GoTo jumps to index. Out-of-range indexes leave the cursor unchanged.
func (s *ExamSessionService) GoTo(ctx context.Context, userID int, examID string, index int) (session.View, bool, error) {
	return s.navigate(ctx, "go to question", userID, examID, func(sess *session.ExamSession) bool {
		return sess.GoToQuestion(index)
	})
}

func (s *ExamSessionService) navigate(ctx context.Context, op string, userID int, examID string, move func(*session.ExamSession) bool) (session.View, bool, error) {
	entry, err := s.lookup(op, userID, examID)
	if err != nil {
		return session.View{}, false, err
	}
	if !move(entry.session) {
		return entry.session.Snapshot(), false, nil
	}
	return s.persist(ctx, sessionKey{userID, examID}, entry), true, nil
}

// TabSwitch records a visibility loss and returns the pending count.
func (s *ExamSessionService) TabSwitch(ctx context.Context, userID int, examID string) (int, error) {
	entry, err := s.lookup("tab switch", userID, examID)
	if err != nil {
		return 0, err
	}
	return s.tabSwitch(ctx, sessionKey{userID, examID}, entry), nil
}

func (s *ExamSessionService) tabSwitch(ctx context.Context, key sessionKey, entry *sessionEntry) int {
	count := entry.session.IncrementTabSwitch()
	s.persist(ctx, key, entry)
	return count
}

// Sync refreshes progress and timer from the upstream API.
func (s *ExamSessionService) Sync(ctx context.Context, userID int, examID string) (session.View, error) {
	entry, err := s.lookup("sync progress", userID, examID)
	if err != nil {
		return session.View{}, err
	}
	if _, err := entry.session.SyncProgress(ctx); err != nil {
		return session.View{}, err
	}
	return entry.session.Snapshot(), nil
}

// Complete finalizes the attempt and drops its snapshot. The session stays
// registered so its result can still be read.
func (s *ExamSessionService) Complete(ctx context.Context, userID int, examID string) (*model.CompletionResult, error) {
	entry, err := s.lookup("complete exam", userID, examID)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, sessionKey{userID, examID}, entry)
}

func (s *ExamSessionService) complete(ctx context.Context, key sessionKey, entry *sessionEntry) (*model.CompletionResult, error) {
	res, err := entry.session.CompleteExam(ctx)
	if err != nil {
		return nil, err
	}
	s.deleteSnapshot(ctx, key.userID, key.examID)
	return res, nil
}

// Close resets the session, unregisters it and drops its snapshot.
func (s *ExamSessionService) Close(ctx context.Context, userID int, examID string) error {
	key := sessionKey{userID, examID}
	entry, err := s.lookup("close session", userID, examID)
	if err != nil {
		return err
	}
	entry.session.Reset()
	s.remove(key, entry)
	s.deleteSnapshot(ctx, userID, examID)
	s.log.Info().Int("user_id", userID).Str("exam_id", examID).Msg("Session closed")
	return nil
}

// FetchResult reads the summary of a finished attempt without touching any
// open session.
func (s *ExamSessionService) FetchResult(ctx context.Context, attemptID string) (*model.CompletionResult, error) {
	const op = "fetch exam result"
	if err := validateID(op, "attempt id", attemptID); err != nil {
		return nil, err
	}
	sess := session.New(s.transport, s.opts...)
	return sess.FetchExamResult(ctx, attemptID)
}

// Stream is the signal-stream slot of one registered session. It stays bound
// to the session it was attached to: once that session is closed or evicted,
// every call fails with NotFound, even if the same exam was opened again.
type Stream struct {
	svc   *ExamSessionService
	key   sessionKey
	entry *sessionEntry
}

// AttachStream admits one signal stream for the session.
func (s *ExamSessionService) AttachStream(userID int, examID string) (*Stream, error) {
	key := sessionKey{userID, examID}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[key]
	if !ok {
		return nil, notOpen("attach stream")
	}
	if entry.stream != nil {
		return nil, ErrStreamAttached
	}
	st := &Stream{svc: s, key: key, entry: entry}
	entry.stream = st
	entry.lastUsed = s.now()
	return st, nil
}

// Tick consumes one second of the session timer.
func (st *Stream) Tick() (remaining int, expired bool, err error) {
	if err := st.check("tick"); err != nil {
		return 0, false, err
	}
	remaining, expired = st.entry.session.DecrementTimer()
	return remaining, expired, nil
}

// TabSwitch records a visibility loss and returns the pending count.
func (st *Stream) TabSwitch(ctx context.Context) (int, error) {
	if err := st.check("tab switch"); err != nil {
		return 0, err
	}
	return st.svc.tabSwitch(ctx, st.key, st.entry), nil
}

// Complete finalizes the attempt, as ExamSessionService.Complete does.
func (st *Stream) Complete(ctx context.Context) (*model.CompletionResult, error) {
	if err := st.check("complete exam"); err != nil {
		return nil, err
	}
	return st.svc.complete(ctx, st.key, st.entry)
}

// Detach releases the slot. It never touches a session registered later
// under the same key.
func (st *Stream) Detach() {
	s := st.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.entry.stream == st {
		st.entry.stream = nil
		st.entry.lastUsed = s.now()
	}
}

// check fails unless the stream's session is still the registered one and
// the stream still holds its slot.
func (st *Stream) check(op string) error {
	s := st.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[st.key] != st.entry || st.entry.stream != st {
		return notOpen(op)
	}
	st.entry.lastUsed = s.now()
	return nil
}

// EvictIdle unregisters sessions unused for longer than maxIdle. Sessions
// with an attached stream are kept. Snapshots are left in Redis so a later
// Open can resume.
func (s *ExamSessionService) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, entry := range s.sessions {
		if entry.stream != nil || entry.lastUsed.After(cutoff) {
			continue
		}
		delete(s.sessions, key)
		evicted++
	}
	if evicted > 0 {
		s.log.Info().Int("count", evicted).Msg("Evicted idle sessions")
	}
	return evicted
}

// Active returns the number of registered sessions.
func (s *ExamSessionService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *ExamSessionService) getOrCreate(key sessionKey) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[key]; ok {
		entry.lastUsed = s.now()
		return entry, false
	}
	entry := &sessionEntry{
		session:  session.New(s.transport, s.opts...),
		lastUsed: s.now(),
	}
	s.sessions[key] = entry
	return entry, true
}

func (s *ExamSessionService) lookup(op string, userID int, examID string) (*sessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionKey{userID, examID}]
	if !ok {
		return nil, notOpen(op)
	}
	entry.lastUsed = s.now()
	return entry, nil
}

// remove unregisters entry unless it was already replaced.
func (s *ExamSessionService) remove(key sessionKey, entry *sessionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[key] == entry {
		delete(s.sessions, key)
	}
}

// persist saves the current snapshot and returns the view it was taken from.
// A failed write is logged; it never fails the operation.
func (s *ExamSessionService) persist(ctx context.Context, key sessionKey, entry *sessionEntry) session.View {
	entry.saveMu.Lock()
	defer entry.saveMu.Unlock()

	view := entry.session.Snapshot()
	if view.State != session.StateLoaded {
		return view
	}
	err := s.writer.Save(ctx, key.userID, key.examID, snapshot.Snapshot{
		Answers:     view.StagedAnswers,
		Index:       view.CurrentIndex,
		TabSwitches: view.TabSwitchCount,
		SavedAt:     s.now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Int("user_id", key.userID).Str("exam_id", key.examID).Msg("Snapshot save failed")
	}
	return view
}

func (s *ExamSessionService) deleteSnapshot(ctx context.Context, userID int, examID string) {
	if err := s.writer.Delete(ctx, userID, examID); err != nil {
		s.log.Warn().Err(err).Int("user_id", userID).Str("exam_id", examID).Msg("Snapshot delete failed")
	}
}

func notOpen(op string) error {
	return examerr.New(examerr.KindNotFound, op, "no open session for this exam")
}

// validateID requires a UUID, the identifier format of the admissions API.
func validateID(op, name, id string) error {
	if id == "" {
		return examerr.New(examerr.KindValidation, op, name+" is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return examerr.New(examerr.KindValidation, op, "invalid "+name)
	}
	return nil
}
