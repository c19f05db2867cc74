package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/huddle/internal/audit"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/pkg/apperr"
)

func TestCreatePrivateNeedsExactlyTwoParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.convs.Create(ctx, f.a, CreateConversationInput{
		Type:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{f.b, f.c},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, _, err = f.convs.Create(ctx, f.a, CreateConversationInput{
		Type:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{f.a},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreatePrivateReturnsExistingConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.convs.Create(ctx, f.a, CreateConversationInput{
		Type:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{f.b},
	})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.convs.Create(ctx, f.b, CreateConversationInput{
		Type:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{f.a, f.b},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestCreateRejectsUnknownParticipants(t *testing.T) {
	f := newFixture(t)
	ghost := uuid.New()

	_, _, err := f.convs.Create(context.Background(), f.a, CreateConversationInput{
		Type:           domain.ConversationGroup,
		ParticipantIDs: []uuid.UUID{f.b, ghost},
	})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Fields["participantIds"], ghost.String())
	assert.Contains(t, appErr.Message, ghost.String())
}

func TestCreateIncludesRequesterAndAudits(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, f.a, f.b)

	assert.ElementsMatch(t, []uuid.UUID{f.a, f.b}, conv.ParticipantIDs())
	assert.Equal(t, "Ana", conv.Participant(f.a).User.Name)

	require.Len(t, f.auditor.records, 1)
	r := f.auditor.records[0]
	assert.Equal(t, audit.ActionCreate, r.Action)
	assert.Equal(t, conv.ID, r.EntityID)
	assert.Nil(t, r.Before)
}

func TestGetConversationRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	conv := f.private(t, f.a, f.b)

	_, err := f.convs.Get(context.Background(), conv.ID, f.c)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.convs.Get(context.Background(), uuid.New(), f.a)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetConversationReturnsHistoryAndTouchesLastRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.private(t, f.a, f.b)
	f.send(t, f.a, conv.ID, "one")
	f.clock.advance(time.Second)
	f.send(t, f.a, conv.ID, "two")
	f.clock.advance(time.Minute)

	detail, err := f.convs.Get(ctx, conv.ID, f.b)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "one", detail.Messages[0].Body)
	assert.Equal(t, "two", detail.Messages[1].Body)

	f.bg.Wait()
	after, err := f.store.Conversations().GetByID(ctx, conv.ID)
	require.NoError(t, err)
	lastRead := after.Participant(f.b).LastReadAt
	require.NotNil(t, lastRead)
	assert.True(t, lastRead.Equal(f.clock.now()))
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.private(t, f.a, f.b)
	msg := f.send(t, f.a, conv.ID, "soon gone")

	assert.True(t, apperr.Is(f.convs.Delete(ctx, conv.ID, f.c), apperr.KindAuthorization))
	require.NoError(t, f.convs.Delete(ctx, conv.ID, f.b))

	_, err := f.convs.Get(ctx, conv.ID, f.a)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.msgs.Get(ctx, f.a, msg.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	list, err := f.convs.List(ctx, f.a)
	require.NoError(t, err)
	assert.Empty(t, list)

	// the pair is free again once the old conversation is deleted
	fresh := f.private(t, f.a, f.b)
	assert.NotEqual(t, conv.ID, fresh.ID)
}

func TestListConversationsNewestActivityFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withB := f.private(t, f.a, f.b)
	f.clock.advance(time.Second)
	withC := f.private(t, f.a, f.c)
	f.clock.advance(time.Second)
	f.send(t, f.b, withB.ID, "ping")

	list, err := f.convs.List(ctx, f.a)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, withB.ID, list[0].ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "ping", list[0].LastMessage.Body)
	assert.Equal(t, withC.ID, list[1].ID)
	assert.Nil(t, list[1].LastMessage)
}

func TestConversationCursorCoversEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	others := make([]uuid.UUID, 6)
	for i := range others {
		others[i] = uuid.New()
		f.store.AddUser(domain.UserProfile{ID: others[i], Name: fmt.Sprintf("user-%d", i)})
		f.private(t, f.a, others[i])
		f.clock.advance(time.Second)
	}

	all, err := f.convs.List(ctx, f.a)
	require.NoError(t, err)
	require.Len(t, all, 6)

	for size := 1; size <= 7; size++ {
		var got []uuid.UUID
		var cursor *uuid.UUID
		for {
			page, err := f.convs.ListCursor(ctx, f.a, size, cursor)
			require.NoError(t, err)
			for _, item := range page.Items {
				got = append(got, item.ID)
			}
			if !page.HasMore {
				assert.Nil(t, page.NextCursor)
				break
			}
			require.NotNil(t, page.NextCursor)
			cursor = page.NextCursor
		}

		require.Len(t, got, len(all), "page size %d", size)
		for i := range all {
			assert.Equal(t, all[i].ID, got[i], "page size %d", size)
		}
	}
}

func TestConversationCursorRejectsUnknownCursor(t *testing.T) {
	f := newFixture(t)
	bogus := uuid.New()
	_, err := f.convs.ListCursor(context.Background(), f.a, 10, &bogus)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUnreadCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.private(t, f.a, f.b)

	unread := func() int {
		page, err := f.convs.ListCursor(ctx, f.b, 10, nil)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		return page.Items[0].UnreadCount
	}

	f.clock.advance(time.Second)
	f.send(t, f.a, conv.ID, "one")
	f.clock.advance(time.Second)
	f.send(t, f.a, conv.ID, "two")
	f.clock.advance(time.Second)
	f.send(t, f.b, conv.ID, "mine")
	// sending advances the sender's own read marker
	assert.Equal(t, 0, unread())

	f.clock.advance(time.Second)
	f.send(t, f.a, conv.ID, "three")
	assert.Equal(t, 1, unread())

	f.clock.advance(time.Second)
	_, err := f.msgs.MarkAsRead(ctx, f.b, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unread())

	f.clock.advance(time.Second)
	f.send(t, f.a, conv.ID, "four")
	assert.Equal(t, 1, unread())
}

func TestAddParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private := f.private(t, f.a, f.b)
	_, err := f.convs.AddParticipants(ctx, private.ID, f.a, AddParticipantsInput{ParticipantIDs: []uuid.UUID{f.c}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	group := f.group(t, f.a, f.b)
	_, err = f.convs.AddParticipants(ctx, group.ID, f.c, AddParticipantsInput{ParticipantIDs: []uuid.UUID{f.c}})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.convs.AddParticipants(ctx, group.ID, f.a, AddParticipantsInput{ParticipantIDs: []uuid.UUID{uuid.New()}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	updated, err := f.convs.AddParticipants(ctx, group.ID, f.a, AddParticipantsInput{ParticipantIDs: []uuid.UUID{f.c, f.b}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{f.a, f.b, f.c}, updated.ParticipantIDs())

	f.send(t, f.c, group.ID, "hi all")
}
