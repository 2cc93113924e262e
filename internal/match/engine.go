// Package match parses inbound commands and runs the rock-paper-scissors
// matchmaking state machine over the record store.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"throwbot/internal/archive"
	"throwbot/internal/msgcat"
	"throwbot/internal/nickname"
	"throwbot/internal/obslog"
	"throwbot/internal/store"
	"throwbot/internal/userlock"
)

// Result is the outcome of one successfully processed command: a status and
// text for the sender, plus optionally a correlated text for the opponent.
// Validation failures are Results (400/403/404), never errors.
type Result struct {
	Status       int
	Message      string
	OtherUserID  string
	OtherMessage string
}

// Engine routes parsed commands. The caller holds the sender's lock for the
// whole call; the engine takes the opponent's lock itself where both sides
// mutate. Records are borrowed per command, never retained.
type Engine struct {
	records store.Records
	nicks   *nickname.Directory
	locks   *userlock.Manager
	cat     *msgcat.Catalog
	repo    *archive.Repository
}

func NewEngine(records store.Records, nicks *nickname.Directory, locks *userlock.Manager, cat *msgcat.Catalog) *Engine {
	return &Engine{records: records, nicks: nicks, locks: locks, cat: cat}
}

// AttachArchive wires an optional match-history repository.
func (e *Engine) AttachArchive(r *archive.Repository) {
	if e != nil {
		e.repo = r
	}
}

// Handle parses text from userID and executes it.
func (e *Engine) Handle(ctx context.Context, userID, text string) (*Result, error) {
	cmd := Parse(text)
	switch cmd.Kind {
	case KindRegister:
		return e.register(ctx, userID, cmd.Arg)
	case KindThrow:
		return e.throw(ctx, userID, cmd.Arg)
	case KindQuit:
		return e.quit(ctx, userID)
	case KindHelp:
		return e.help(cmd.Arg)
	case KindUnknown:
		return e.result(400, "unknown", nil)
	}
	return nil, fmt.Errorf("unhandled command kind %d", cmd.Kind)
}

// result renders a catalog text into a sender-only Result. A catalog render
// failure is an infrastructure error, not a user-facing one.
func (e *Engine) result(status int, key string, data any) (*Result, error) {
	msg, err := e.cat.Render(key, data)
	if err != nil {
		return nil, err
	}
	return &Result{Status: status, Message: msg}, nil
}

func (e *Engine) register(ctx context.Context, userID, nick string) (*Result, error) {
	u, err := e.records.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if u != nil && u.Nickname != "" {
		return e.result(400, "nick.already", map[string]string{"Display": u.DisplayName})
	}
	nick = strings.TrimSpace(nick)
	err = e.nicks.Register(ctx, userID, nick)
	switch {
	case errors.Is(err, nickname.ErrInvalid):
		return e.result(400, "nick.invalid", map[string]string{"Nick": nick})
	case errors.Is(err, nickname.ErrTaken):
		return e.result(400, "nick.taken", map[string]string{"Nick": nick})
	case err != nil:
		return nil, err
	}
	obslog.L().Info("nick_registered", zap.String("user_id", userID), zap.String("nickname", strings.ToLower(nick)))
	return e.result(200, "nick.registered", map[string]string{"Nick": nick})
}

func (e *Engine) throw(ctx context.Context, userID, arg string) (*Result, error) {
	playTok, nickTok := splitFirst(arg)
	if playTok == "" || nickTok == "" {
		return e.result(400, "throw.usage", nil)
	}
	play, ok := ParsePlay(playTok)
	if !ok {
		return e.result(400, "throw.badplay", nil)
	}

	me, err := e.records.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if me == nil || me.Nickname == "" {
		return e.result(400, "throw.neednick", nil)
	}

	opp, err := e.nicks.Resolve(ctx, strings.ToLower(nickTok))
	if errors.Is(err, store.ErrNotFound) {
		return e.result(404, "throw.noplayer", map[string]string{"Nick": nickTok})
	}
	if err != nil {
		return nil, err
	}

	// Second lock of the pair. The sender is already locked by the batch
	// layer; the opponent must be locked too before either side's games map
	// moves, and released on every exit path. A lock cycle between two
	// crossing throws just fails one side, which retries via redelivery.
	var res *Result
	err = e.locks.WithLock(ctx, opp.UserID, func(ctx context.Context) error {
		var lerr error
		res, lerr = e.resolveThrow(ctx, me, opp.UserID, play)
		return lerr
	})
	if errors.Is(err, store.ErrNotFound) {
		// opponent quit between resolve and lock
		return e.result(404, "throw.noplayer", map[string]string{"Nick": nickTok})
	}
	if err != nil {
		return nil, fmt.Errorf("throw by %s against %s: %w", userID, nickTok, err)
	}
	return res, nil
}

// resolveThrow runs with both players locked. me was read before the
// opponent lock; the opponent is re-read under it.
func (e *Engine) resolveThrow(ctx context.Context, me *store.UserRecord, oppID string, play Play) (*Result, error) {
	opp, err := e.records.GetUser(ctx, oppID)
	if err != nil {
		return nil, err
	}
	if opp.Nickname == "" {
		// the lock acquisition upserted a bare record: the opponent quit
		// between nickname resolution and locking
		return nil, store.ErrNotFound
	}

	myGames, err := e.pruneAbandoned(ctx, me.Games)
	if err != nil {
		return nil, err
	}
	oppGames, err := e.pruneAbandoned(ctx, opp.Games)
	if err != nil {
		return nil, err
	}

	// no sneaky second throws against the same opponent
	if prior, ok := myGames[opp.Nickname]; ok {
		return e.result(403, "throw.already", map[string]string{"Play": prior, "Nick": opp.Nickname})
	}

	if oppPlayRaw, ok := oppGames[me.Nickname]; ok {
		// second throw of the pair: consume the pending entry, persist both
		// sides, then score
		delete(oppGames, me.Nickname)
		if err := e.records.SetGames(ctx, opp.UserID, oppGames); err != nil {
			return nil, err
		}
		if err := e.records.SetGames(ctx, me.UserID, myGames); err != nil {
			return nil, err
		}
		return e.scoreMatch(ctx, me, opp, play, Play(oppPlayRaw))
	}

	// first throw: record it on the requester, persist pruning on both
	myGames[opp.Nickname] = string(play)
	if err := e.records.SetGames(ctx, opp.UserID, oppGames); err != nil {
		return nil, err
	}
	if err := e.records.SetGames(ctx, me.UserID, myGames); err != nil {
		return nil, err
	}
	obslog.L().Info("throw_pending",
		zap.String("user_id", me.UserID),
		zap.String("opponent", opp.Nickname),
	)
	mine, err := e.cat.Render("throw.waiting", map[string]string{"Name": opp.DisplayName})
	if err != nil {
		return nil, err
	}
	theirs, err := e.cat.Render("throw.incoming", map[string]string{"Name": me.DisplayName})
	if err != nil {
		return nil, err
	}
	return &Result{Status: 200, Message: mine, OtherUserID: opp.UserID, OtherMessage: theirs}, nil
}

func (e *Engine) scoreMatch(ctx context.Context, me, opp *store.UserRecord, mine, theirs Play) (*Result, error) {
	outcome, err := Compare(mine, theirs)
	if err != nil {
		return nil, err
	}
	var myKey, oppKey, outcomeName string
	switch outcome {
	case OutcomeTie:
		myKey, oppKey, outcomeName = "throw.tie", "throw.tie", "tie"
	case OutcomeWin:
		myKey, oppKey, outcomeName = "throw.win", "throw.lose", "win"
	case OutcomeLoss:
		myKey, oppKey, outcomeName = "throw.lose", "throw.win", "loss"
	}
	myMsg, err := e.cat.Render(myKey, map[string]string{"Name": opp.DisplayName})
	if err != nil {
		return nil, err
	}
	oppMsg, err := e.cat.Render(oppKey, map[string]string{"Name": me.DisplayName})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("match_resolved",
		zap.String("user_id", me.UserID),
		zap.String("opponent_id", opp.UserID),
		zap.String("play", string(mine)),
		zap.String("opponent_play", string(theirs)),
		zap.String("outcome", outcomeName),
	)
	if e.repo != nil {
		m := &archive.Match{
			ID:               uuid.NewString(),
			UserID:           me.UserID,
			OpponentID:       opp.UserID,
			Nickname:         me.Nickname,
			OpponentNickname: opp.Nickname,
			Play:             string(mine),
			OpponentPlay:     string(theirs),
			Outcome:          outcomeName,
			ResolvedAt:       time.Now(),
		}
		if aerr := e.repo.SaveMatch(ctx, m); aerr != nil {
			obslog.L().Warn("archive_save_failed", zap.String("match_id", m.ID), zap.Error(aerr))
		}
	}
	return &Result{Status: 200, Message: myMsg, OtherUserID: opp.UserID, OtherMessage: oppMsg}, nil
}

// pruneAbandoned drops pending entries whose opponent nickname no longer
// resolves (that player quit). Returns a fresh map; never nil.
func (e *Engine) pruneAbandoned(ctx context.Context, games map[string]string) (map[string]string, error) {
	cleaned := make(map[string]string, len(games))
	for nick, play := range games {
		ok, err := e.nicks.Exists(ctx, nick)
		if err != nil {
			return nil, err
		}
		if ok {
			cleaned[nick] = play
		}
	}
	return cleaned, nil
}

func (e *Engine) quit(ctx context.Context, userID string) (*Result, error) {
	u, err := e.records.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("quit: no record for user %s", userID)
	}
	if err != nil {
		return nil, err
	}
	if err := e.records.DeleteUser(ctx, userID); err != nil {
		return nil, err
	}
	if u.Nickname != "" {
		if err := e.nicks.Unregister(ctx, u.Nickname); err != nil {
			return nil, err
		}
	}
	obslog.L().Info("user_quit", zap.String("user_id", userID), zap.String("nickname", u.Nickname))
	return e.result(200, "quit.done", nil)
}

func (e *Engine) help(topic string) (*Result, error) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	switch topic {
	case "":
		return e.result(200, "help.general", nil)
	case "nick", "throw", "quit":
		return e.result(200, "help."+topic, nil)
	default:
		return e.result(200, "help.missing", map[string]string{"Topic": topic})
	}
}
