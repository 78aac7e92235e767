package domain

type CheckoutState string

const (
	CheckoutIdle               CheckoutState = "IDLE"
	CheckoutPreviewing         CheckoutState = "PREVIEWING"
	CheckoutPreviewed          CheckoutState = "PREVIEWED"
	CheckoutQuantityMismatch   CheckoutState = "QUANTITY_MISMATCH"
	CheckoutMultiStoreDecision CheckoutState = "MULTI_STORE_DECISION"
	CheckoutEditingStores      CheckoutState = "EDITING_STORES"
	CheckoutReady              CheckoutState = "READY"
	CheckoutSubmitting         CheckoutState = "SUBMITTING"
	CheckoutSubmitted          CheckoutState = "SUBMITTED"
	CheckoutFailed             CheckoutState = "FAILED"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutIdle:               {CheckoutPreviewing},
	CheckoutPreviewing:         {CheckoutPreviewed, CheckoutFailed},
	CheckoutPreviewed:          {CheckoutQuantityMismatch, CheckoutMultiStoreDecision, CheckoutReady, CheckoutFailed},
	CheckoutQuantityMismatch:   {CheckoutPreviewed, CheckoutPreviewing},
	CheckoutMultiStoreDecision: {CheckoutReady, CheckoutEditingStores, CheckoutPreviewing},
	CheckoutEditingStores:      {CheckoutPreviewing, CheckoutMultiStoreDecision, CheckoutFailed},
	CheckoutReady:              {CheckoutSubmitting, CheckoutPreviewing},
	CheckoutSubmitting:         {CheckoutSubmitted, CheckoutFailed},
	CheckoutSubmitted:          {},
	CheckoutFailed:             {CheckoutPreviewing},
}

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutSubmitted || s == CheckoutFailed
}

func (s CheckoutState) String() string {
	return string(s)
}

func CanTransitionTo(from, to CheckoutState) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
