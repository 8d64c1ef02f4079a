// Package command implements the participant-facing commands: checklives, addlives and
// checkrevive.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline.ai/internal/lifecycle"
	"lifeline.ai/internal/logging"
	"lifeline.ai/internal/world"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownTarget  = errors.New("unknown target")
	ErrBadNumber      = errors.New("bad number")
	ErrUsage          = errors.New("usage")
)

type handler func(d *Dispatcher, caller uuid.UUID, args []string) error

type command struct {
	names []string
	f     handler
}

// Dispatcher parses a command line and runs it on behalf of a participant. Every outcome,
// including invalid input, is reported back to the caller as a direct message.
type Dispatcher struct {
	machine *lifecycle.Machine
	host    world.Host
	idFor   func(name string) uuid.UUID
	log     *zap.Logger
	index   map[string]handler
}

// NewDispatcher builds a dispatcher. idFor derives a participant id from a name; it lets
// commands reach participants the ledger knows but who have not connected since the last
// restart. A nil idFor limits targets to names the host has seen.
func NewDispatcher(m *lifecycle.Machine, host world.Host, idFor func(name string) uuid.UUID, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		machine: m,
		host:    host,
		idFor:   idFor,
		log:     logging.OrNop(logger),
		index:   map[string]handler{},
	}
	for _, c := range commands() {
		for _, n := range c.names {
			d.index[n] = c.f
		}
	}
	return d
}

// Names lists the registered command names.
func (d *Dispatcher) Names() []string {
	var out []string
	for _, c := range commands() {
		out = append(out, c.names...)
	}
	return out
}

// Dispatch runs line, with or without a leading slash. Errors wrap one of the package
// sentinels; the caller has already been told what went wrong.
func (d *Dispatcher) Dispatch(caller uuid.UUID, line string) error {
	parts, err := shellwords.SplitPosix(strings.TrimSpace(line))
	if err != nil {
		d.host.Send(caller, "コマンドを解析できませんでした。")
		return errors.Wrap(err, "split command line")
	}
	if len(parts) == 0 {
		return errors.Wrap(ErrUnknownCommand, "empty command")
	}
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	f, ok := d.index[name]
	if !ok {
		d.host.Send(caller, fmt.Sprintf("不明なコマンドです: %s", name))
		return errors.Wrapf(ErrUnknownCommand, "%q", name)
	}
	err = f(d, caller, parts[1:])
	if err != nil {
		d.log.Info("command rejected", zap.Stringer("caller", caller), zap.String("command", name), zap.Error(err))
	}
	return err
}

func commands() []command {
	return []command{
		{names: []string{"checklives"}, f: checkLives},
		{names: []string{"addlives"}, f: addLives},
		{names: []string{"checkrevive"}, f: checkRevive},
	}
}

func checkLives(d *Dispatcher, caller uuid.UUID, _ []string) error {
	lives := d.machine.Ledger().Lives(caller)
	d.host.Send(caller, fmt.Sprintf("あなたの残りライフは %d です。", lives))
	return nil
}

func addLives(d *Dispatcher, caller uuid.UUID, args []string) error {
	def := d.machine.Ledger().DefaultLives()
	switch len(args) {
	case 0:
		d.machine.OnAdminAdjust(caller, nil)
		d.host.Send(caller, fmt.Sprintf("あなたのライフを初期値 (%d) にリセットしました。", def))
		return nil

	case 1:
		if n, err := strconv.Atoi(args[0]); err == nil {
			a := d.machine.OnAdminAdjust(caller, &n)
			d.host.Send(caller, fmt.Sprintf("あなたのライフを %d に設定しました。", a.After))
			return nil
		}
		target, name, err := d.resolve(caller, args[0])
		if err != nil {
			return err
		}
		d.machine.OnAdminAdjust(target, nil)
		d.host.Send(caller, fmt.Sprintf("%s のライフを初期値 (%d) にリセットしました。", name, def))
		return nil

	case 2:
		target, name, err := d.resolve(caller, args[0])
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			d.host.Send(caller, "数値を正しく入力してください。")
			return errors.Wrapf(ErrBadNumber, "%q", args[1])
		}
		a := d.machine.OnAdminAdjust(target, &n)
		d.host.Send(caller, fmt.Sprintf("%s のライフを %d に設定しました。", name, a.After))
		return nil
	}

	d.host.Send(caller, "用法: /addlives <player> <数値> または /addlives <数値>")
	return errors.Wrapf(ErrUsage, "addlives with %d arguments", len(args))
}

func checkRevive(d *Dispatcher, caller uuid.UUID, _ []string) error {
	r := d.machine.CheckRevive(caller)
	switch r.State {
	case lifecycle.ReviveNotExhausted:
		d.host.Send(caller, "あなたはライフが残っているため、復活待ち状態ではありません！")
	case lifecycle.ReviveNotObserving:
		d.host.Send(caller, "現在あなたは観戦モードではありません。")
	case lifecycle.ReviveReleased:
		d.host.Send(caller, "あなたはすでに復活可能な時間を過ぎています。復帰処理を行います。")
	default:
		d.host.Send(caller, fmt.Sprintf("あなたが復活できるまで残り %s です。", lifecycle.FormatRemaining(r.Remaining)))
	}
	return nil
}

func (d *Dispatcher) resolve(caller uuid.UUID, name string) (uuid.UUID, string, error) {
	id, ok := d.host.Lookup(name)
	if ok {
		return id, d.host.Name(id), nil
	}
	if d.idFor != nil {
		if id := d.idFor(name); d.machine.Ledger().Known(id) {
			return id, name, nil
		}
	}
	d.host.Send(caller, fmt.Sprintf("プレイヤー %s は存在しません。", name))
	return uuid.Nil, "", errors.Wrapf(ErrUnknownTarget, "%q", name)
}
