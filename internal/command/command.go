// Package command implements the depot write commands: report insert,
// suite update and knowledge-base article insert and delete. A command is
// parsed and validated, authorized, acknowledged, announced to peers and
// then either executed or parked on the sync coordinator until the running
// snapshot transfer ends.
package command

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/depot/internal/model"
	"github.com/mesh-intelligence/depot/internal/replication"
	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Command kinds. They double as delayed-work kinds and as the root element
// of captured state.
const (
	KindInsert          = "insert"
	KindSuiteUpdate     = "suiteUpdate"
	KindKbArticleInsert = "kbArticleInsert"
	KindKbArticleDelete = "kbArticleDelete"
)

// Kinds lists every write command kind.
var Kinds = []string{KindInsert, KindSuiteUpdate, KindKbArticleInsert, KindKbArticleDelete}

// Command is a parsed write command.
type Command interface {
	replication.DelayedWork
	Remote() string
	Arg() string
	Payload() []byte
}

// Validator checks a payload before it is parsed. Depots that validate
// documents against a schema plug it in here.
type Validator interface {
	Validate(kind string, payload []byte) error
}

// Notifier announces accepted commands to the peer depots.
type Notifier interface {
	Notify(kind, arg string, payload []byte)
}

// Comparer judges a report against a configuration's target and returns the
// comparison result text.
type Comparer interface {
	Compare(ctx context.Context, cfg *model.SeriesConfig, report *model.Report) (string, error)
}

// Env holds the collaborators shared by every command. Authorizer, Validator,
// Notifier and Comparer are optional.
type Env struct {
	DB          *row.DB
	Coordinator *replication.Coordinator
	Authorizer  Authorizer
	Validator   Validator
	Notifier    Notifier
	Comparer    Comparer
}

// Register installs a factory for every command kind in reg, so that
// replayed commands run against env.
func (e *Env) Register(reg *replication.Registry) {
	for _, kind := range Kinds {
		reg.Register(kind, func() replication.DelayedWork {
			cmd, _ := e.empty(kind)
			return cmd
		})
	}
}

func (e *Env) empty(kind string) (Command, error) {
	b := base{env: e, kind: kind}
	switch kind {
	case KindInsert:
		return &Insert{base: b}, nil
	case KindSuiteUpdate:
		return &SuiteUpdate{base: b}, nil
	case KindKbArticleInsert:
		return &KbArticleInsert{base: b}, nil
	case KindKbArticleDelete:
		return &KbArticleDelete{base: b}, nil
	}
	return nil, errors.Wrapf(types.ErrUnknownCommand, "%q", kind)
}

// New parses and validates a command received from remote. Nothing is
// written.
func (e *Env) New(kind, remote, arg string, payload []byte) (Command, error) {
	cmd, err := e.empty(kind)
	if err != nil {
		return nil, err
	}
	if e.Validator != nil {
		if err := e.Validator.Validate(kind, payload); err != nil {
			return nil, errors.Wrapf(types.ErrInvalidPayload, "%s: %v", kind, err)
		}
	}
	b := cmd.(interface{ init(remote, arg string, payload []byte) })
	b.init(remote, arg, payload)
	if err := cmd.(decoder).decode(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Run drives an accepted command: it checks permission, acknowledges the
// client, announces the command to peers unless it came from one, and then
// defers it while a synchronization runs or executes it. Errors returned
// after ack has succeeded are not seen by the client.
func (e *Env) Run(ctx context.Context, cmd Command, ack func() error) error {
	if e.Authorizer != nil {
		if err := e.Authorizer.Authorize(cmd.Remote(), CapabilityWrite); err != nil {
			return err
		}
	}
	if err := ack(); err != nil {
		log.WithError(err).WithField("kind", cmd.Kind()).Warn("cannot acknowledge command")
	}
	if e.Notifier != nil && (e.Authorizer == nil || !e.Authorizer.IsPeer(cmd.Remote())) {
		e.Notifier.Notify(cmd.Kind(), cmd.Arg(), cmd.Payload())
	}

	deferred, err := e.Coordinator.AddDelayedWork(cmd)
	if err != nil {
		return err
	}
	if deferred {
		return nil
	}
	return cmd.Replay(ctx)
}

type decoder interface {
	decode() error
}

// base carries what every command keeps between parsing and replay.
type base struct {
	env      *Env
	kind     string
	remote   string
	arg      string
	payload  []byte
	received time.Time
}

func (b *base) init(remote, arg string, payload []byte) {
	b.remote, b.arg, b.payload = remote, arg, payload
	b.received = time.Now().UTC()
}

func (b *base) Kind() string { return b.kind }
func (b *base) Remote() string { return b.remote }
func (b *base) Arg() string { return b.arg }
func (b *base) Payload() []byte { return b.payload }

func invalid(kind, format string, args ...any) error {
	return errors.Wrapf(types.ErrInvalidPayload, kind+": "+format, args...)
}
