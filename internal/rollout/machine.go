package rollout

import (
	"context"
	"errors"

	"github.com/KevinKickass/OpenFacilityCore/internal/firmware"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/looplab/fsm"
)

// Rollout states of a single device evaluation. update_triggered maps to the
// device's UPDATE_PENDING status; the other two leave it UP_TO_DATE.
const (
	StateNoUpdateDue     = "no_update_due"
	StateUpdateDue       = "update_due"
	StateUpdateTriggered = "update_triggered"
)

const (
	// EventCompare moves to update_due when the reported version differs from the latest release.
	EventCompare = "compare"
	// EventTrigger starts an automatic rollout for devices with auto update enabled.
	EventTrigger = "trigger"
	// EventForce starts an operator rollout without comparing versions.
	EventForce = "force"
)

// plan is the argument carried through one machine run.
type plan struct {
	device         *storage.Device
	artifact       *storage.FirmwareArtifact
	currentVersion string
	trigger        storage.DeploymentTrigger
	// record is false for forced rollouts, which write no deployment record.
	record  bool
	promote bool

	deployment *storage.Deployment
}

func planOf(e *fsm.Event) *plan {
	return e.Args[0].(*plan)
}

func (c *Coordinator) newMachine() *fsm.FSM {
	events := fsm.Events{
		{Name: EventCompare, Src: []string{StateNoUpdateDue}, Dst: StateUpdateDue},
		{Name: EventTrigger, Src: []string{StateUpdateDue}, Dst: StateUpdateTriggered},
		{Name: EventForce, Src: []string{StateNoUpdateDue, StateUpdateDue}, Dst: StateUpdateTriggered},
	}

	callbacks := fsm.Callbacks{
		// Guards
		"before_" + EventCompare: wrapEvent(c.guardVersionDiffers),
		"before_" + EventTrigger: wrapEvent(c.guardAutoUpdate),

		// Side effects
		"enter_" + StateUpdateTriggered: wrapEvent(c.actionEnterTriggered),
	}

	return fsm.NewFSM(StateNoUpdateDue, events, callbacks)
}

// guardVersionDiffers cancels compare when the device already runs the
// latest release. Versions are compared as opaque strings.
func (c *Coordinator) guardVersionDiffers(ctx context.Context, e *fsm.Event) error {
	p := planOf(e)
	if firmware.SameVersion(p.currentVersion, p.artifact.Version) {
		e.Cancel()
	}
	return nil
}

func (c *Coordinator) guardAutoUpdate(ctx context.Context, e *fsm.Event) error {
	if !planOf(e).device.AutoUpdate {
		e.Cancel()
	}
	return nil
}

func (c *Coordinator) actionEnterTriggered(ctx context.Context, e *fsm.Event) error {
	return c.apply(ctx, planOf(e))
}

func wrapEvent(fn func(ctx context.Context, e *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		if err := fn(ctx, e); err != nil {
			e.Err = err
		}
	}
}

// fire runs one event. It reports false without error when a guard
// declined the transition.
func fire(ctx context.Context, m *fsm.FSM, event string, p *plan) (bool, error) {
	err := m.Event(ctx, event, p)
	if err == nil {
		return true, nil
	}

	var canceled fsm.CanceledError
	var noTransition fsm.NoTransitionError
	if errors.As(err, &canceled) || errors.As(err, &noTransition) {
		return false, nil
	}
	return false, err
}
