package billing

import "github.com/ManuelReschke/PalmLedger/app/models"

// SubscriptionState is the user's local subscription state relative to an
// incoming subscription payment.
type SubscriptionState string

const (
	StateNone        SubscriptionState = "none"
	StateActiveSame  SubscriptionState = "active_same"
	StateActiveOther SubscriptionState = "active_other"
	StateCancelled   SubscriptionState = "cancelled"
)

// PaymentEvent distinguishes the first payment of a subscription from a
// recurring one.
type PaymentEvent string

const (
	EventInitial PaymentEvent = "initial"
	EventRenewal PaymentEvent = "renewal"
)

// Action is what the orchestrator writes to the subscription log.
type Action string

const (
	ActionRecordNew           Action = "record_new"
	ActionRecordRenewal       Action = "record_renewal"
	ActionSwitchThenRecordNew Action = "switch_then_record_new"
)

var transitions = map[SubscriptionState]map[PaymentEvent]Action{
	StateNone: {
		EventInitial: ActionRecordNew,
		EventRenewal: ActionRecordRenewal,
	},
	StateActiveSame: {
		EventInitial: ActionRecordNew,
		EventRenewal: ActionRecordRenewal,
	},
	StateActiveOther: {
		EventInitial: ActionSwitchThenRecordNew,
		EventRenewal: ActionSwitchThenRecordNew,
	},
	StateCancelled: {
		EventInitial: ActionRecordNew,
		EventRenewal: ActionRecordRenewal,
	},
}

// Transition looks up the action for state and event.
func Transition(state SubscriptionState, event PaymentEvent) (Action, bool) {
	byEvent, ok := transitions[state]
	if !ok {
		return "", false
	}
	a, ok := byEvent[event]
	return a, ok
}

// ClassifyState derives the state from the user's latest row. latest may be nil.
func ClassifyState(latest *models.SubscriptionRecord, subscriptionID string) SubscriptionState {
	switch {
	case latest == nil:
		return StateNone
	case !latest.IsActiveContribution():
		return StateCancelled
	case latest.SubscriptionID == subscriptionID:
		return StateActiveSame
	default:
		return StateActiveOther
	}
}

func paymentEvent(isRenewal bool) PaymentEvent {
	if isRenewal {
		return EventRenewal
	}
	return EventInitial
}
