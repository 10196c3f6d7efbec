package goIdentity

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goIdentity/internal/domain/group"
	"github.com/MrEthical07/goIdentity/token"
)

func (f *fixture) invitationToken(t *testing.T, ctx context.Context, groupID string) string {
	t.Helper()
	view, err := f.e.Users.Get(ctx)
	if err != nil {
		t.Fatalf("Users.Get failed: %v", err)
	}
	inv, ok := view.Invitations[groupID]
	if !ok {
		t.Fatalf("no invitation for %s in %+v", groupID, view.Invitations)
	}
	return inv.InvitationToken
}

func TestGroupCreateAndGet(t *testing.T) {
	f := newFixture(t)
	admin := f.userCtx(t, "admin", "admin@example.com")

	if err := f.e.Groups.Create(admin, "g1", "Group One"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.e.Groups.Create(admin, "g1", "Again"); !errors.Is(err, ErrGroupAlreadyExists) {
		t.Fatalf("expected ErrGroupAlreadyExists, got %v", err)
	}

	view, err := f.e.Groups.Get(admin, "g1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if view.UID != "g1" || view.Label != "Group One" || len(view.Members) != 1 {
		t.Fatalf("unexpected view %+v", view)
	}
	m := view.Members[0]
	if m.Role != "admin" || m.User.UID != "admin" || m.User.Email != "admin@example.com" || m.User.Locale != "en-US" {
		t.Fatalf("unexpected member %+v", m)
	}
	if m.User.CreatedAt != f.clock.Now().UnixMilli() || m.User.ConfirmedAt != 0 {
		t.Fatalf("unexpected member timestamps %+v", m.User)
	}

	me, err := f.e.Users.Get(admin)
	if err != nil {
		t.Fatalf("Users.Get failed: %v", err)
	}
	if g := me.Groups["g1"]; g.Role != "admin" || g.Label != "Group One" || g.GroupID != "g1" {
		t.Fatalf("membership not projected: %+v", me.Groups)
	}
}

func TestRenameKeepsNonMembersOut(t *testing.T) {
	f := newFixture(t)
	admin := f.userCtx(t, "admin", "admin@example.com")
	outsider := f.userCtx(t, "out", "out@example.com")
	if err := f.e.Groups.Create(admin, "g1", "Group One"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := f.e.Groups.Rename(admin, "g1", "Renamed"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	_, err := f.e.Groups.Get(outsider, "g1")
	if !errors.Is(err, ErrOnlyAllowedForMembers) {
		t.Fatalf("expected ErrOnlyAllowedForMembers, got %v", err)
	}
	var authz *AuthorizationError
	if !errors.As(err, &authz) || authz.GroupID != "g1" {
		t.Fatalf("expected group id on error, got %#v", err)
	}
	if _, err := f.e.Groups.Get(outsider, "missing"); !errors.Is(err, ErrOnlyAllowedForMembers) {
		t.Fatalf("unknown group: expected ErrOnlyAllowedForMembers, got %v", err)
	}
	if err := f.e.Groups.Rename(outsider, "g1", "Hijacked"); !errors.Is(err, ErrRequiresAdminRole) {
		t.Fatalf("outsider rename: expected ErrRequiresAdminRole, got %v", err)
	}

	view, err := f.e.Groups.Get(admin, "g1")
	if err != nil || view.Label != "Renamed" {
		t.Fatalf("Get after rename = %+v, %v", view, err)
	}
	me, err := f.e.Users.Get(admin)
	if err != nil || me.Groups["g1"].Label != "Renamed" {
		t.Fatalf("rename not projected: %+v, %v", me.Groups, err)
	}
}

func TestInvitationSingleUse(t *testing.T) {
	f := newFixture(t)
	admin := f.userCtx(t, "admin", "admin@example.com")
	bob := f.userCtx(t, "bob", "bob@example.com")
	eve := f.userCtx(t, "eve", "eve@example.com")
	if err := f.e.Groups.Create(admin, "g1", "Group One"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.e.Groups.InviteUser(admin, "g1", "Bob@Example.com"); err != nil {
		t.Fatalf("InviteUser failed: %v", err)
	}
	tok := f.invitationToken(t, bob, "g1")

	if err := f.e.Groups.Join(eve, tok); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("foreign invitee: expected ErrUnvalidToken, got %v", err)
	}
	if err := f.e.Groups.Join(bob, tok); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := f.e.Groups.Join(bob, tok); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("second join: expected ErrUnvalidToken, got %v", err)
	}

	view, err := f.e.Groups.Get(bob, "g1")
	if err != nil {
		t.Fatalf("member Get failed: %v", err)
	}
	if len(view.Members) != 2 || view.Members[1].User.UID != "bob" || view.Members[1].Role != "member" {
		t.Fatalf("unexpected members %+v", view.Members)
	}
	if len(view.Invitations) != 0 {
		t.Fatalf("consumed invitation still pending: %+v", view.Invitations)
	}
	if err := f.e.Groups.InviteUser(admin, "g1", "bob@example.com"); !errors.Is(err, ErrMemberAlreadyExists) {
		t.Fatalf("inviting a member: expected ErrMemberAlreadyExists, got %v", err)
	}
}

func TestReinviteIssuesDistinctToken(t *testing.T) {
	f := newFixture(t)
	admin := f.userCtx(t, "admin", "admin@example.com")
	carol := f.userCtx(t, "carol", "carol@example.com")
	if err := f.e.Groups.Create(admin, "g1", "Group One"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := f.e.Groups.InviteUser(admin, "g1", "carol@example.com"); err != nil {
		t.Fatalf("InviteUser failed: %v", err)
	}
	first := f.invitationToken(t, carol, "g1")
	if err := f.e.Groups.UninviteUser(admin, "g1", "carol@example.com"); err != nil {
		t.Fatalf("UninviteUser failed: %v", err)
	}
	if err := f.e.Groups.UninviteUser(admin, "g1", "carol@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second uninvite: expected ErrNotFound, got %v", err)
	}
	me, err := f.e.Users.Get(carol)
	if err != nil {
		t.Fatalf("Users.Get failed: %v", err)
	}
	if _, ok := me.Invitations["g1"]; ok {
		t.Fatal("revoked invitation still listed")
	}
	if err := f.e.Groups.Join(carol, first); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("revoked token: expected ErrUnvalidToken, got %v", err)
	}

	if err := f.e.Groups.InviteUser(admin, "g1", "carol@example.com"); err != nil {
		t.Fatalf("re-invite failed: %v", err)
	}
	second := f.invitationToken(t, carol, "g1")
	if second == first {
		t.Fatal("re-invite reused the previous token")
	}
	if err := f.e.Groups.Join(carol, first); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("old token after re-invite: expected ErrUnvalidToken, got %v", err)
	}
	if err := f.e.Groups.Join(carol, second); err != nil {
		t.Fatalf("Join with new token failed: %v", err)
	}
}

func TestAdminOnlyGroupCommands(t *testing.T) {
	f := newFixture(t)
	admin := f.userCtx(t, "admin", "admin@example.com")
	bob := f.userCtx(t, "bob", "bob@example.com")
	if err := f.e.Groups.Create(admin, "g1", "Group One"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.e.Groups.InviteUser(admin, "g1", "bob@example.com"); err != nil {
		t.Fatalf("InviteUser failed: %v", err)
	}
	if err := f.e.Groups.Join(bob, f.invitationToken(t, bob, "g1")); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	checks := map[string]error{
		"rename":   f.e.Groups.Rename(bob, "g1", "Mine"),
		"invite":   f.e.Groups.InviteUser(bob, "g1", "x@example.com"),
		"uninvite": f.e.Groups.UninviteUser(bob, "g1", "x@example.com"),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrRequiresAdminRole) {
			t.Fatalf("%s by member: expected ErrRequiresAdminRole, got %v", name, err)
		}
	}
	if got := f.e.MetricsSnapshot().Counters[MetricAuthorizationDenied]; got < 3 {
		t.Fatalf("denials counted = %d", got)
	}

	if err := f.e.Groups.Leave(admin, "g1"); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("last admin leaving: expected ErrUnvalidRequest, got %v", err)
	}
	if err := f.e.Groups.Leave(bob, "g1"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	me, err := f.e.Users.Get(bob)
	if err != nil {
		t.Fatalf("Users.Get failed: %v", err)
	}
	if _, ok := me.Groups["g1"]; ok {
		t.Fatal("left group still projected")
	}
}

func TestAccessTokenExchange(t *testing.T) {
	f := newFixture(t)
	admin := f.userCtx(t, "admin", "admin@example.com")
	bob := f.userCtx(t, "bob", "bob@example.com")
	outsider := f.userCtx(t, "out", "out@example.com")
	if err := f.e.Groups.Create(admin, "g1", "Group One"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.e.Groups.InviteUser(admin, "g1", "bob@example.com"); err != nil {
		t.Fatalf("InviteUser failed: %v", err)
	}
	if err := f.e.Groups.Join(bob, f.invitationToken(t, bob, "g1")); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	access, err := f.e.Groups.RequestAccessForMember(bob, "g1")
	if err != nil {
		t.Fatalf("RequestAccessForMember failed: %v", err)
	}
	acl, err := f.e.Groups.VerifyAccessToken(WithAccessToken(bob, access))
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	claims := f.claims(t, acl, token.PurposeACL)
	if claims.UserID != "bob" || claims.GroupID != "g1" || claims.Role != "member" {
		t.Fatalf("unexpected acl claims %+v", claims)
	}

	if _, err := f.e.Groups.RequestAccessForMember(outsider, "g1"); !errors.Is(err, ErrOnlyAllowedForMembers) {
		t.Fatalf("outsider access: expected ErrOnlyAllowedForMembers, got %v", err)
	}
	if _, err := f.e.Groups.VerifyAccessToken(WithAccessToken(outsider, access)); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("borrowed accessToken: expected ErrUnvalidToken, got %v", err)
	}
	if _, err := f.e.Groups.VerifyAccessToken(WithAccessToken(bob, acl)); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("aclToken as accessToken: expected ErrUnvalidToken, got %v", err)
	}

	if err := f.e.Groups.Leave(bob, "g1"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if _, err := f.e.Groups.VerifyAccessToken(WithAccessToken(bob, access)); !errors.Is(err, ErrOnlyAllowedForMembers) {
		t.Fatalf("after leaving: expected ErrOnlyAllowedForMembers, got %v", err)
	}
}

func TestGroupLogRedactsInvitationTokens(t *testing.T) {
	f := newFixture(t)
	admin := f.userCtx(t, "admin", "admin@example.com")
	if err := f.e.Groups.Create(admin, "g1", "Group One"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.e.Groups.InviteUser(admin, "g1", "bob@example.com"); err != nil {
		t.Fatalf("InviteUser failed: %v", err)
	}

	page, err := f.e.Groups.GetLog(admin, "g1", LogQuery{})
	if err != nil {
		t.Fatalf("GetLog failed: %v", err)
	}
	want := []string{group.EventCreated, group.EventMemberJoined, group.EventUserInvited}
	if page.Count != len(want) {
		t.Fatalf("count = %d, want %d", page.Count, len(want))
	}
	for i, name := range want {
		if page.Events[i].Name != name {
			t.Fatalf("event %d = %s, want %s", i, page.Events[i].Name, name)
		}
	}
	invited := page.Events[2].Payload.(*group.UserInvited)
	if invited.Token != "" || invited.Email != "bob@example.com" {
		t.Fatalf("unexpected invitation payload %+v", invited)
	}
}
