package session

import (
	"context"
	defError "errors"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"collab-sync-server/internal/broadcast"
	"collab-sync-server/internal/crdt"
	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/errors"
	"collab-sync-server/internal/permission"
	"collab-sync-server/internal/store"
	"collab-sync-server/redis"
)

// ErrSessionGone is returned when a session id no longer names a live
// session. Clients recover by re-opening the document.
var ErrSessionGone = defError.New("session gone")

// Flusher schedules a durable flush for a live document without blocking
// the caller. Wired to the persistence scheduler in main.
type Flusher interface {
	FlushAsync(docID uint64)
}

// Registry owns the document→session map. It is the only component that
// creates or destroys sessions; everything else reaches a session through
// registry operations.
type Registry struct {
	mu    sync.Mutex
	byDoc map[uint64]*Session
	byID  map[string]*Session

	store        store.Adapter
	engine       crdt.Engine
	broadcaster  *broadcast.Broadcaster
	flusher      Flusher
	presence     *redis.Presence
	grace        time.Duration
	storeTimeout time.Duration
	log          zerolog.Logger
}

type Options struct {
	Store        store.Adapter
	Engine       crdt.Engine
	Broadcaster  *broadcast.Broadcaster
	Presence     *redis.Presence
	Grace        time.Duration
	StoreTimeout time.Duration
	Logger       zerolog.Logger
}

func NewRegistry(opts Options) *Registry {
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Registry{
		byDoc:        make(map[uint64]*Session),
		byID:         make(map[string]*Session),
		store:        opts.Store,
		engine:       opts.Engine,
		broadcaster:  opts.Broadcaster,
		presence:     opts.Presence,
		grace:        opts.Grace,
		storeTimeout: opts.StoreTimeout,
		log:          opts.Logger,
	}
}

// SetFlusher wires the persistence scheduler after construction; the
// scheduler needs the registry too, so one side is attached late.
func (r *Registry) SetFlusher(f Flusher) {
	r.flusher = f
}

type OpenResult struct {
	SessionID string
	Role      domain.Role
}

// Open resolves or creates the live session for a document and returns the
// caller's role on it. Opening an already-live document never touches the
// store; opening a cold one loads it exactly once no matter how many callers
// race (the loser waits for the winner's load). A session observed mid-
// teardown is retried once before giving up.
func (r *Registry) Open(ctx context.Context, docID uint64, userID uint64) (*OpenResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s, created := r.resolveOrCreate(docID)

		if created {
			if err := r.load(ctx, s); err != nil {
				return nil, err
			}
		} else {
			select {
			case <-s.ready:
			case <-ctx.Done():
				return nil, errors.New(http.StatusServiceUnavailable, "Timed out opening document", ctx.Err())
			}
			if s.loadErr != nil {
				// the loader already tore the entry down; retry sees a
				// fresh map slot
				continue
			}
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		role := permission.ResolveRole(userID, s.meta)
		s.mu.Unlock()

		if !permission.CanView(role) {
			return nil, errors.Forbidden("No access to this document", nil)
		}

		return &OpenResult{SessionID: s.id, Role: role}, nil
	}

	return nil, errors.NotFound("Document not found", ErrSessionGone)
}

// resolveOrCreate returns the live session for docID, creating a loading
// placeholder when the document is cold. created reports whether the caller
// is the one responsible for loading it.
func (r *Registry) resolveOrCreate(docID uint64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byDoc[docID]; ok {
		return s, false
	}

	s := &Session{
		id:           ulid.Make().String(),
		documentID:   docID,
		ready:        make(chan struct{}),
		conns:        make(map[string]connInfo),
		lastActivity: time.Now(),
	}
	r.byDoc[docID] = s
	r.byID[s.id] = s
	return s, true
}

// load performs the cold-to-live transition: fetch from the store, restore
// the replica, publish the session. On failure the placeholder is removed so
// the next open starts over.
func (r *Registry) load(ctx context.Context, s *Session) error {
	loadCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	meta, snapshot, err := r.store.Load(loadCtx, s.documentID)
	if err != nil {
		r.abandonLoad(s, err)
		if defError.Is(err, store.ErrNotFound) {
			return errors.NotFound("Document not found", err)
		}
		if loadCtx.Err() != nil {
			return errors.New(http.StatusServiceUnavailable, "Timed out opening document", err)
		}
		return errors.Internal(err)
	}

	replica, err := r.engine.Restore(snapshot)
	if err != nil {
		// corrupt snapshot: start from an empty replica rather than
		// locking everyone out of the document
		r.log.Error().Err(err).Uint64("document_id", s.documentID).
			Msg("failed to restore snapshot, starting empty")
		replica = r.engine.New()
	}

	s.mu.Lock()
	s.replica = replica
	s.awareness = crdt.NewAwareness()
	s.meta = meta
	// nothing is attached yet; if the opener never attaches, the session
	// goes cold after the grace period like any other empty one
	s.graceTimer = time.AfterFunc(r.grace, func() { r.retire(s) })
	s.mu.Unlock()
	close(s.ready)

	r.log.Info().
		Uint64("document_id", s.documentID).
		Str("session_id", s.id).
		Int("snapshot_bytes", len(snapshot)).
		Msg("session created")
	return nil
}

func (r *Registry) abandonLoad(s *Session, err error) {
	r.mu.Lock()
	if r.byDoc[s.documentID] == s {
		delete(r.byDoc, s.documentID)
	}
	delete(r.byID, s.id)
	r.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.loadErr = err
	close(s.ready)
}

type AttachResult struct {
	FullState []byte
	Awareness []byte
	Role      domain.Role
}

// Attach adds a connection to a session and hands back the full current
// state plus the presence snapshot. The state is encoded under the session
// lock, so it reflects either all of an in-flight update or none of it.
func (r *Registry) Attach(sessionID string, connID string, userID uint64) (*AttachResult, error) {
	s := r.sessionByID(sessionID)
	if s == nil {
		return nil, errors.NotFound("Session gone", ErrSessionGone)
	}

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil, errors.NotFound("Session gone", ErrSessionGone)
	}

	role := permission.ResolveRole(userID, s.meta)
	if !permission.CanView(role) {
		s.mu.Unlock()
		return nil, errors.Forbidden("No access to this document", nil)
	}

	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}

	s.conns[connID] = connInfo{userID: userID, roleAtJoin: role}
	s.lastActivity = time.Now()

	res := &AttachResult{
		FullState: s.replica.EncodeState(),
		Awareness: s.awareness.Encode(),
		Role:      role,
	}
	s.mu.Unlock()

	// network calls stay outside the session lock so a slow redis
	// round-trip never stalls edits
	if r.presence != nil {
		r.presence.Incr(context.Background(), s.documentID)
	}

	r.log.Info().
		Uint64("document_id", s.documentID).
		Str("session_id", s.id).
		Str("connection_id", connID).
		Uint64("user_id", userID).
		Str("role", string(role)).
		Msg("connection attached")

	return res, nil
}

// Detach removes a connection. Its presence is cleared and the removal is
// broadcast to the remaining participants. When the last connection leaves,
// an immediate flush is scheduled and the session lingers for a grace period
// before going cold, so a quick reconnect does not thrash the store.
func (r *Registry) Detach(sessionID string, connID string) {
	s := r.sessionByID(sessionID)
	if s == nil {
		return
	}

	s.mu.Lock()
	ci, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conns, connID)
	s.lastActivity = time.Now()

	if removal := s.awareness.Clear(connID); removal != nil {
		r.broadcaster.Awareness(s.documentID, s.allConns(), connID, removal)
	}

	empty := len(s.conns) == 0
	if empty && !s.closed {
		if s.graceTimer != nil {
			s.graceTimer.Stop()
		}
		s.graceTimer = time.AfterFunc(r.grace, func() { r.retire(s) })
	}
	s.mu.Unlock()

	if r.presence != nil {
		r.presence.Decr(context.Background(), s.documentID)
	}
	if empty && r.flusher != nil {
		r.flusher.FlushAsync(s.documentID)
	}

	r.log.Info().
		Uint64("document_id", s.documentID).
		Str("session_id", s.id).
		Str("connection_id", connID).
		Uint64("user_id", ci.userID).
		Str("role", string(ci.roleAtJoin)).
		Msg("connection detached")
}

// retire transitions a session back to cold once its grace period expires
// with no participants. The session is only destroyed after a successful
// flush; on store failure it stays live and retire is re-armed, so the
// scheduler keeps retrying on its interval.
func (r *Registry) retire(s *Session) {
	s.mu.Lock()
	if s.closed || len(s.conns) > 0 {
		s.mu.Unlock()
		return
	}
	meta := s.meta.Clone()
	meta.LastModified = time.Now().UTC()
	state := s.replica.EncodeState()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()
	if err := r.store.Save(ctx, s.documentID, meta, state); err != nil && !defError.Is(err, store.ErrNotFound) {
		r.log.Error().Err(err).
			Uint64("document_id", s.documentID).
			Msg("final flush failed, keeping session live")
		s.mu.Lock()
		if !s.closed && len(s.conns) == 0 {
			s.graceTimer = time.AfterFunc(r.grace, func() { r.retire(s) })
		}
		s.mu.Unlock()
		return
	}

	r.mu.Lock()
	s.mu.Lock()
	if len(s.conns) > 0 {
		// reattached between the flush and now, stay live
		s.mu.Unlock()
		r.mu.Unlock()
		return
	}
	s.closed = true
	if r.byDoc[s.documentID] == s {
		delete(r.byDoc, s.documentID)
	}
	delete(r.byID, s.id)
	s.mu.Unlock()
	r.mu.Unlock()

	if r.presence != nil {
		r.presence.Clear(context.Background(), s.documentID)
	}

	r.log.Info().
		Uint64("document_id", s.documentID).
		Str("session_id", s.id).
		Msg("session retired")
}

// SubmitUpdate applies an update through the per-session serialization
// point and fans it out to the other participants. Writes from connections
// without edit rights are dropped without telling the submitter: a viewer's
// tampered client learns nothing about how far its write got.
func (r *Registry) SubmitUpdate(sessionID string, connID string, update []byte) error {
	s := r.sessionByID(sessionID)
	if s == nil {
		return errors.NotFound("Session gone", ErrSessionGone)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NotFound("Session gone", ErrSessionGone)
	}
	ci, ok := s.conns[connID]
	if !ok {
		return errors.NotFound("Connection not attached", ErrSessionGone)
	}

	// re-resolve against current metadata: collaborator changes pushed
	// mid-session gate the very next write
	role := permission.ResolveRole(ci.userID, s.meta)
	if !permission.CanEdit(role) {
		r.log.Warn().
			Uint64("document_id", s.documentID).
			Uint64("user_id", ci.userID).
			Str("role", string(role)).
			Msg("blocked unauthorized write attempt")
		return nil
	}

	if err := s.replica.ApplyUpdate(update); err != nil {
		r.log.Error().Err(err).
			Uint64("document_id", s.documentID).
			Str("connection_id", connID).
			Int("update_bytes", len(update)).
			Msg("engine rejected update")
		return nil
	}

	s.lastActivity = time.Now()
	r.broadcaster.Update(s.documentID, s.otherConns(connID), connID, update)
	return nil
}

// SubmitAwareness merges a presence update and fans it out. Presence is not
// a write: viewers broadcast cursors like everyone else.
func (r *Registry) SubmitAwareness(sessionID string, connID string, update []byte) error {
	s := r.sessionByID(sessionID)
	if s == nil {
		return errors.NotFound("Session gone", ErrSessionGone)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NotFound("Session gone", ErrSessionGone)
	}
	if _, ok := s.conns[connID]; !ok {
		return errors.NotFound("Connection not attached", ErrSessionGone)
	}

	if err := s.awareness.Apply(update); err != nil {
		r.log.Error().Err(err).
			Uint64("document_id", s.documentID).
			Str("connection_id", connID).
			Msg("rejected awareness update")
		return nil
	}

	s.lastActivity = time.Now()
	r.broadcaster.Awareness(s.documentID, s.otherConns(connID), connID, update)
	return nil
}

func (r *Registry) sessionByID(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[sessionID]
}

// LiveDocuments lists the documents with a live session, for the
// persistence scheduler's interval sweep.
func (r *Registry) LiveDocuments() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.byDoc))
	for id := range r.byDoc {
		ids = append(ids, id)
	}
	return ids
}

// SnapshotDocument encodes the full state of a live session for flushing or
// for the internal state endpoint. ok is false when the document is cold.
func (r *Registry) SnapshotDocument(docID uint64) (*domain.DocumentMetadata, []byte, bool) {
	r.mu.Lock()
	s := r.byDoc[docID]
	r.mu.Unlock()
	if s == nil {
		return nil, nil, false
	}

	select {
	case <-s.ready:
	default:
		// still loading, nothing to flush yet
		return nil, nil, false
	}
	if s.loadErr != nil {
		return nil, nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, false
	}
	meta := s.meta.Clone()
	meta.LastModified = time.Now().UTC()
	return meta, s.replica.EncodeState(), true
}

// PatchPermission updates a live session's metadata after a collaborator
// change. Durable state is the store's business; this only makes the change
// visible to permission checks on in-flight sessions. No-op when cold.
func (r *Registry) PatchPermission(docID uint64, userID uint64, email string, role domain.Role) {
	r.mu.Lock()
	s := r.byDoc[docID]
	r.mu.Unlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.meta == nil {
		return
	}
	if role == domain.RoleNone {
		s.meta.RemoveCollaborator(userID)
	} else {
		s.meta.SetCollaborator(userID, email, role)
	}

	r.log.Info().
		Uint64("document_id", docID).
		Uint64("user_id", userID).
		Str("role", string(role)).
		Msg("live session permission patched")
}

// CloseDocument tears down the live session for a deleted document without
// flushing. Attached connections are dropped; their sockets learn about it
// from the transport layer.
func (r *Registry) CloseDocument(docID uint64) {
	r.mu.Lock()
	s := r.byDoc[docID]
	if s != nil {
		delete(r.byDoc, docID)
		delete(r.byID, s.id)
	}
	r.mu.Unlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	s.closed = true
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.conns = make(map[string]connInfo)
	s.mu.Unlock()

	if r.presence != nil {
		r.presence.Clear(context.Background(), docID)
	}

	r.log.Info().Uint64("document_id", docID).Msg("session closed for deleted document")
}
