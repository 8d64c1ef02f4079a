package placement

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline.ai/internal/world"
)

// Reason says why a participant is being placed. The set is closed: FirstJoin, Respawn and
// LockRelease, each with its own follow-up after the teleport.
type Reason interface {
	String() string
	followUp(o *Orchestrator, a arrival)
}

type arrival struct {
	ID       uuid.UUID
	Name     string
	At       world.Location
	Fallback bool
}

type FirstJoin struct{}

func (FirstJoin) String() string { return "first_join" }

func (FirstJoin) followUp(o *Orchestrator, a arrival) {
	pos := a.At.Block()
	o.host.Broadcast(fmt.Sprintf("初参加のプレイヤー %s が %s にスポーンしました！", a.Name, pos))
	if a.Fallback {
		return
	}
	o.later(o.cfg.WelcomeDelay, func() {
		o.host.Send(a.ID, fmt.Sprintf("初参加なのでランダムスポーン地点 %s へテレポートしました！", pos))
	})
}

type Respawn struct{}

func (Respawn) String() string { return "respawn" }

func (Respawn) followUp(o *Orchestrator, a arrival) {
	o.host.Broadcast(fmt.Sprintf("%s が %s にスポーンしました！", a.Name, a.At.Block()))
}

type LockRelease struct{}

func (LockRelease) String() string { return "lock_release" }

// The mode change waits for the teleport so the participant does not take fall damage.
func (LockRelease) followUp(o *Orchestrator, a arrival) {
	if err := o.host.SetMode(a.ID, world.ModeSurvival); err != nil {
		o.log.Error("leave observation mode", zap.Stringer("participant", a.ID), zap.Error(err))
	}
	o.host.Broadcast(fmt.Sprintf("%s が %s にスポーンしました！", a.Name, a.At.Block()))
	o.host.Send(a.ID, "観戦モードが解除され、ランダムな地点で復帰しました！")
}
