package projector

import (
	"github.com/wyfcoding/mortgage-kernel/fsm"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
)

// LoanState is one of the six states a loan's probability mass occupies.
// default and prepaid are absorbing.
type LoanState string

const (
	StateCurrent      LoanState = "current"
	StateDelinquent30 LoanState = "delinquent30"
	StateDelinquent60 LoanState = "delinquent60"
	StateDelinquent90 LoanState = "delinquent90"
	StateDefault      LoanState = "default"
	StatePrepaid      LoanState = "prepaid"
)

// Event names the legal state-graph edges; the projector never calls
// Trigger on this machine (it carries probability mass across all states
// simultaneously, not a single current state) — it exists to document and
// validate the transition graph the month-by-month update must respect.
type Event string

const (
	EventPrepay   Event = "prepay"
	EventRoll     Event = "roll"
	EventCure     Event = "cure"
	EventDefault  Event = "default"
	EventLiquidate Event = "liquidate"
)

// NewStateGraph builds the legal transition graph for a single loan.
func NewStateGraph() *fsm.Machine[LoanState, Event] {
	m := fsm.NewMachine[LoanState, Event](StateCurrent)
	m.AddTransition(StateCurrent, EventPrepay, StatePrepaid)
	m.AddTransition(StateCurrent, EventRoll, StateDelinquent30)
	m.AddTransition(StateDelinquent30, EventCure, StateCurrent)
	m.AddTransition(StateDelinquent30, EventRoll, StateDelinquent60)
	m.AddTransition(StateDelinquent60, EventCure, StateCurrent)
	m.AddTransition(StateDelinquent60, EventRoll, StateDelinquent90)
	m.AddTransition(StateDelinquent90, EventCure, StateCurrent)
	m.AddTransition(StateDelinquent90, EventDefault, StateDefault)
	m.AddTransition(StateDefault, EventLiquidate, StatePrepaid)
	return m
}

// delinquency chain cure/roll rates. The specification leaves these
// unquantified (§4.4 only names the transitions); these are fixed
// industry-typical values documented as a design decision.
const (
	cureRate30 = 0.40
	rollRate30 = 0.15
	cureRate60 = 0.25
	rollRate60 = 0.20
	cureRate90 = 0.10
)

// foreclosure delay in months, by jurisdiction type.
const (
	foreclosureDelayJudicial    = 18
	foreclosureDelayNonJudicial = 6
)

func foreclosureDelay(fs loan.ForeclosureState) int {
	if fs == loan.Judicial {
		return foreclosureDelayJudicial
	}
	return foreclosureDelayNonJudicial
}
