package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/domain"
)

const memberRole = "member"

// MembershipResult carries the events of a membership change
type MembershipResult struct {
	Project    *domain.Project    `json:"project,omitempty"`
	Invitation *domain.Invitation `json:"invitation,omitempty"`
	Status     string             `json:"status,omitempty"`
	Events     []broadcast.Event  `json:"-"`
}

// MembershipService runs the project membership changes that notify users
type MembershipService struct {
	store         domain.Store
	notifications *NotificationService
	now           func() time.Time
}

// NewMembershipService creates a new membership service
func NewMembershipService(store domain.Store, notifications *NotificationService) *MembershipService {
	return &MembershipService{
		store:         store,
		notifications: notifications,
		now:           storeClock,
	}
}

// Invite asks receiverID to collaborate on a project owned by the caller. The
// invitation and the receiver's notification commit together.
func (s *MembershipService) Invite(ctx context.Context, p domain.Principal, projectID, receiverID uuid.UUID) (*MembershipResult, error) {
	var res *MembershipResult
	err := s.store.WithTx(ctx, func(tx domain.Store) error {
		project, err := tx.Projects().Get(ctx, projectID)
		if err != nil {
			return err
		}
		if project.OwnerID != p.ID {
			return fmt.Errorf("only the owner manages project %s: %w", projectID, domain.ErrUnauthorized)
		}
		if receiverID == project.OwnerID {
			return fmt.Errorf("the owner already has access: %w", domain.ErrInvalidInput)
		}

		receiver, err := tx.Users().Get(ctx, receiverID)
		if err != nil {
			return err
		}
		member, err := tx.Projects().IsMember(ctx, projectID, receiverID)
		if err != nil {
			return err
		}
		if member {
			return fmt.Errorf("%s already has access to project %s: %w", receiver.Name, projectID, domain.ErrInvalidInput)
		}

		inv := &domain.Invitation{
			ID:           uuid.New(),
			ProjectID:    projectID,
			ProjectName:  project.Name,
			SenderID:     p.ID,
			ReceiverID:   receiverID,
			ReceiverName: receiver.Name,
			Status:       domain.InvitationPending,
		}
		if err := tx.Projects().CreateInvitation(ctx, inv); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return fmt.Errorf("%s is already invited to project %s: %w", receiver.Name, projectID, domain.ErrInvalidInput)
			}
			return err
		}

		sender := p.DisplayName
		if sender == "" {
			sender = "A user"
		}
		_, evt, err := s.notifications.Notify(ctx, tx, receiverID,
			domain.NotificationInvitationReceived,
			"New collaboration invitation",
			fmt.Sprintf("%s invited you to collaborate on project %q", sender, project.Name),
			map[string]string{
				"project_id":    projectID.String(),
				"invitation_id": inv.ID.String(),
			},
		)
		if err != nil {
			return err
		}

		res = &MembershipResult{
			Project:    project,
			Invitation: inv,
			Status:     inv.Status,
			Events:     []broadcast.Event{evt},
		}
		return nil
	})
	if err != nil {
		return nil, storeError("invite collaborator", err)
	}

	log.Info().
		Str("project_id", projectID.String()).
		Str("receiver_id", receiverID.String()).
		Str("invited_by", p.ID.String()).
		Msg("Collaborator invited")
	return res, nil
}

// RespondToInvitation accepts or declines a pending invitation addressed to
// the caller and tells the inviter
func (s *MembershipService) RespondToInvitation(ctx context.Context, p domain.Principal, invitationID uuid.UUID, accept bool) (*MembershipResult, error) {
	var res *MembershipResult
	err := s.store.WithTx(ctx, func(tx domain.Store) error {
		inv, err := tx.Projects().GetPendingInvitation(ctx, invitationID, p.ID)
		if err != nil {
			return err
		}

		status := domain.InvitationDeclined
		if accept {
			status = domain.InvitationAccepted
		}
		if err := tx.Projects().SetInvitationStatus(ctx, inv.ID, status, s.now()); err != nil {
			return err
		}

		receiver := inv.ReceiverName
		if receiver == "" {
			receiver = "A user"
		}
		data := map[string]string{
			"project_id":    inv.ProjectID.String(),
			"invitation_id": inv.ID.String(),
		}

		var typ, title, message string
		if accept {
			if err := tx.Projects().AddMember(ctx, inv.ProjectID, p.ID, memberRole); err != nil {
				return err
			}
			typ, title = domain.NotificationInvitationAccepted, "Invitation accepted"
			message = fmt.Sprintf("%s accepted your invitation to project %q", receiver, inv.ProjectName)
		} else {
			typ, title = domain.NotificationInvitationDeclined, "Invitation declined"
			message = fmt.Sprintf("%s declined your invitation to project %q", receiver, inv.ProjectName)
		}

		_, evt, err := s.notifications.Notify(ctx, tx, inv.SenderID, typ, title, message, data)
		if err != nil {
			return err
		}

		res = &MembershipResult{Status: status, Events: []broadcast.Event{evt}}
		if accept {
			project, err := tx.Projects().Get(ctx, inv.ProjectID)
			if err != nil {
				return err
			}
			res.Project = project
		}
		return nil
	})
	if err != nil {
		return nil, storeError("respond to invitation", err)
	}

	log.Info().
		Str("invitation_id", invitationID.String()).
		Str("user_id", p.ID.String()).
		Str("status", res.Status).
		Msg("Invitation answered")
	return res, nil
}

// RemoveCollaborator revokes a user's access to a project owned by the caller
// and tells the removed user
func (s *MembershipService) RemoveCollaborator(ctx context.Context, p domain.Principal, projectID, userID uuid.UUID) (*MembershipResult, error) {
	var res *MembershipResult
	err := s.store.WithTx(ctx, func(tx domain.Store) error {
		project, err := tx.Projects().Get(ctx, projectID)
		if err != nil {
			return err
		}
		if project.OwnerID != p.ID {
			return fmt.Errorf("only the owner manages project %s: %w", projectID, domain.ErrUnauthorized)
		}
		if userID == project.OwnerID {
			return fmt.Errorf("the owner cannot be removed: %w", domain.ErrInvalidInput)
		}

		if err := tx.Projects().RemoveMember(ctx, projectID, userID); err != nil {
			return err
		}

		_, evt, err := s.notifications.Notify(ctx, tx, userID,
			domain.NotificationAccessRemoved,
			"Access removed",
			fmt.Sprintf("Your access to project %q has been removed", project.Name),
			map[string]string{
				"project_id": projectID.String(),
				"removed_by": p.ID.String(),
			},
		)
		if err != nil {
			return err
		}

		res = &MembershipResult{Project: project, Events: []broadcast.Event{evt}}
		return nil
	})
	if err != nil {
		return nil, storeError("remove collaborator", err)
	}

	log.Info().
		Str("project_id", projectID.String()).
		Str("user_id", userID.String()).
		Str("removed_by", p.ID.String()).
		Msg("Collaborator removed")
	return res, nil
}
