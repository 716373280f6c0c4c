package directory

import "context"

// Repository is read-mostly access to the member directory. The core only
// mutates the do-not-call flag; member CRUD lives in the admin application.
type Repository interface {
	// MembersForCampaign returns callable members for a group filter (empty
	// filter means every group), excluding opted-out members.
	MembersForCampaign(ctx context.Context, groupFilter string) ([]Member, error)

	FindByPhone(ctx context.Context, phone string) (Member, error)

	SetDoNotCall(ctx context.Context, memberID string, flag bool) error
}
