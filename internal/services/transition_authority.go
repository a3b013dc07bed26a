package services

import (
	"fmt"
	"slices"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
)

// TransitionReason codes why a transition was denied. Empty on allow.
type TransitionReason string

const (
	// ReasonInvalidState means no edge exists between the two statuses.
	ReasonInvalidState TransitionReason = "invalid_state"
	// ReasonUnauthorizedRole means the actor's role may not take this edge.
	ReasonUnauthorizedRole TransitionReason = "unauthorized_role"
	// ReasonNotOwner means a customer acted on an order they do not own.
	ReasonNotOwner TransitionReason = "not_owner"
	// ReasonPaymentRequired means a gateway order is not yet paid.
	ReasonPaymentRequired TransitionReason = "payment_required"
	// ReasonGraceExpired means the customer self-cancel window has passed.
	ReasonGraceExpired TransitionReason = "grace_period_expired"
)

// TransitionRequest is everything the authority needs to rule on one step.
// PaymentStatus is the current Payment record's status, or empty when the
// order has no payment record yet.
type TransitionRequest struct {
	Current        domain.OrderStatus
	Target         domain.OrderStatus
	Actor          Actor
	OrderOwnerID   string
	OrderCreatedAt time.Time
	PaymentMethod  domain.PaymentMethod
	PaymentStatus  domain.PaymentStatus
	Now            time.Time
}

// TransitionDecision is the authority's ruling with an actionable reason.
type TransitionDecision struct {
	Allowed bool
	Reason  TransitionReason
	Detail  string
}

var merchantRoles = []domain.ActorRole{domain.RoleMerchantOwner, domain.RoleMerchantStaff, domain.RolePlatformAdmin}

// orderTransitionRoles declares every legal edge and the roles that may take
// it. Statuses absent as keys are terminal; targets absent from a row are
// unreachable from that status.
var orderTransitionRoles = map[domain.OrderStatus]map[domain.OrderStatus][]domain.ActorRole{
	domain.OrderStatusPending: {
		domain.OrderStatusAccepted:            merchantRoles,
		domain.OrderStatusCancelledByBusiness: merchantRoles,
		domain.OrderStatusCancelledByUser:     {domain.RoleCustomer, domain.RolePlatformAdmin},
		domain.OrderStatusFailedPayment:       {domain.RoleSystem, domain.RolePlatformAdmin},
		domain.OrderStatusRefunded:            {domain.RoleMerchantOwner, domain.RoleMerchantStaff, domain.RolePlatformAdmin, domain.RoleSystem},
	},
	domain.OrderStatusAccepted: {
		domain.OrderStatusPreparing:           merchantRoles,
		domain.OrderStatusCancelledByBusiness: merchantRoles,
		domain.OrderStatusRefunded:            {domain.RoleMerchantOwner, domain.RoleMerchantStaff, domain.RolePlatformAdmin, domain.RoleSystem},
	},
	domain.OrderStatusPreparing: {
		domain.OrderStatusReadyForPickup:      merchantRoles,
		domain.OrderStatusCancelledByBusiness: merchantRoles,
		domain.OrderStatusRefunded:            {domain.RoleMerchantOwner, domain.RoleMerchantStaff, domain.RolePlatformAdmin, domain.RoleSystem},
	},
	domain.OrderStatusReadyForPickup: {
		domain.OrderStatusPickedUp:            merchantRoles,
		domain.OrderStatusCancelledByBusiness: merchantRoles,
		domain.OrderStatusRefunded:            {domain.RoleMerchantOwner, domain.RoleMerchantStaff, domain.RolePlatformAdmin, domain.RoleSystem},
	},
}

// paymentGatedTargets are fulfilment steps denied while a gateway payment is unconfirmed.
var paymentGatedTargets = []domain.OrderStatus{domain.OrderStatusPreparing, domain.OrderStatusReadyForPickup}

// TransitionAuthority rules on order status transitions. Pure and stateless;
// safe for any number of concurrent callers.
type TransitionAuthority struct {
	graceWindow time.Duration
}

// NewTransitionAuthority builds the authority with the customer self-cancel window.
func NewTransitionAuthority(graceWindow time.Duration) TransitionAuthority {
	if graceWindow <= 0 {
		graceWindow = 10 * time.Second
	}
	return TransitionAuthority{graceWindow: graceWindow}
}

// Evaluate returns allow/deny with the specific reason so callers can present
// an actionable message.
func (a TransitionAuthority) Evaluate(req TransitionRequest) TransitionDecision {
	targets, ok := orderTransitionRoles[req.Current]
	if !ok {
		return deny(ReasonInvalidState, fmt.Sprintf("status %q is terminal", req.Current))
	}

	roles, ok := targets[req.Target]
	if !ok {
		return deny(ReasonInvalidState, fmt.Sprintf("no transition from %q to %q", req.Current, req.Target))
	}

	if !slices.Contains(roles, req.Actor.Role) {
		return deny(ReasonUnauthorizedRole, fmt.Sprintf("role %q may not move an order to %q", req.Actor.Role, req.Target))
	}

	if req.Actor.Role == domain.RoleCustomer {
		if req.Actor.ID == "" || req.Actor.ID != req.OrderOwnerID {
			return deny(ReasonNotOwner, "only the order owner may cancel")
		}
		if req.Target == domain.OrderStatusCancelledByUser {
			if req.Now.Sub(req.OrderCreatedAt) > a.graceWindow {
				return deny(ReasonGraceExpired, fmt.Sprintf("grace period of %s expired; contact the merchant to cancel", a.graceWindow))
			}
		}
	}

	if req.PaymentMethod.RequiresGateway() && slices.Contains(paymentGatedTargets, req.Target) {
		if req.PaymentStatus != domain.PaymentStatusPaid {
			return deny(ReasonPaymentRequired, "gateway payment is not confirmed")
		}
	}

	return TransitionDecision{Allowed: true}
}

// CanTransition answers whether any edge exists between two statuses,
// ignoring role and payment context.
func CanTransition(current, target domain.OrderStatus) bool {
	targets, ok := orderTransitionRoles[current]
	if !ok {
		return false
	}
	_, ok = targets[target]
	return ok
}

func deny(reason TransitionReason, detail string) TransitionDecision {
	return TransitionDecision{Reason: reason, Detail: detail}
}
