package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestUserRepositoryLookups(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()

	john := testutil.CreateUser(t, db, "john_doe")
	assert.Equal(t, models.DefaultProfilePicture, john.ProfilePicture)

	got, err := store.Users.GetByUsername(ctx, "john_doe")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, john.ID, got.ID)

	missing, err := store.Users.GetByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := store.Users.ExistsByUsernameOrEmail(ctx, "someone", "john_doe@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Users.ExistsByUsernameOrEmail(ctx, "someone", "someone@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserRepositoryDuplicateIsTranslated(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)

	testutil.CreateUser(t, db, "jane_smith")
	err := store.Users.Create(context.Background(), &models.User{
		Username: "jane_smith",
		Email:    "other@example.com",
		Password: "x",
		Name:     "Jane",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))
}

func TestUserRepositorySearchEscapesWildcards(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()

	testutil.CreateUser(t, db, "john_doe")
	testutil.CreateUser(t, db, "johnny")
	testutil.CreateUser(t, db, "mike_wilson")

	users, total, err := store.Users.Search(ctx, "JOHN", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, users, 2)
	assert.Equal(t, "john_doe", users[0].Username)

	// "_" 只匹配字面下划线
	users, total, err = store.Users.Search(ctx, "n_d", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "john_doe", users[0].Username)

	_, total, err = store.Users.Search(ctx, "%", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	// name 字段也参与匹配
	_, total, err = store.Users.Search(ctx, "user mike", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestFollowRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()

	a := testutil.CreateUser(t, db, "alice")
	b := testutil.CreateUser(t, db, "bob")
	c := testutil.CreateUser(t, db, "carol")

	require.NoError(t, store.Follows.Create(ctx, &models.Follow{FollowerID: a.ID, FollowingID: b.ID}))
	require.NoError(t, store.Follows.Create(ctx, &models.Follow{FollowerID: a.ID, FollowingID: c.ID}))
	require.NoError(t, store.Follows.Create(ctx, &models.Follow{FollowerID: c.ID, FollowingID: b.ID}))

	err := store.Follows.Create(ctx, &models.Follow{FollowerID: a.ID, FollowingID: b.ID})
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

	ids, err := store.Follows.FollowingIDs(ctx, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{b.ID, c.ID}, ids)

	followers, err := store.Follows.GetFollowers(ctx, b.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, followers, 2)

	count, err := store.Follows.CountFollowers(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ok, err := store.Follows.IsFollowing(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := store.Follows.Delete(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = store.Follows.Delete(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPostRepositoryOrderingAndRelations(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	fan := testutil.CreateUser(t, db, "fan")

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	older := testutil.CreatePost(t, db, author, "older sunset", base)
	newer := testutil.CreatePost(t, db, author, "newer beach", base.Add(time.Hour))
	other := testutil.CreatePost(t, db, fan, "fan SUNSET", base.Add(2*time.Hour))

	require.NoError(t, store.Likes.Create(ctx, &models.Like{PostID: older.ID, UserID: fan.ID}))
	require.NoError(t, store.Posts.SetCounters(ctx, older.ID, 1, 0))
	require.NoError(t, store.Comments.Create(ctx, &models.Comment{PostID: older.ID, UserID: fan.ID, Text: "nice"}))
	require.NoError(t, store.Posts.SetCounters(ctx, older.ID, 1, 1))

	got, err := store.Posts.GetByID(ctx, older.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "author", got.Author.Username)
	require.Len(t, got.Likes, 1)
	assert.Equal(t, "fan", got.Likes[0].User.Username)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, "nice", got.Comments[0].Text)

	recent, total, err := store.Posts.ListRecent(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []uuid.UUID{other.ID, newer.ID, older.ID}, postIDs(recent))

	byAuthor, total, err := store.Posts.ListByAuthor(ctx, author.ID, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []uuid.UUID{newer.ID}, postIDs(byAuthor))

	explore, _, err := store.Posts.ListExcludingAuthors(ctx, nil, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{other.ID, newer.ID, older.ID}, postIDs(explore), "least liked first")

	explore, total, err = store.Posts.ListExcludingAuthors(ctx, []uuid.UUID{fan.ID}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []uuid.UUID{newer.ID, older.ID}, postIDs(explore))

	found, total, err := store.Posts.SearchByCaption(ctx, "sunset", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []uuid.UUID{other.ID, older.ID}, postIDs(found))

	none, total, err := store.Posts.ListByAuthors(ctx, nil, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func TestPostRepositoryDeleteCascadesInTransaction(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	post := testutil.CreatePost(t, db, author, "bye", time.Now())
	require.NoError(t, store.Likes.Create(ctx, &models.Like{PostID: post.ID, UserID: author.ID}))
	require.NoError(t, store.Comments.Create(ctx, &models.Comment{PostID: post.ID, UserID: author.ID, Text: "x"}))

	err := store.Transaction(ctx, func(tx *repository.Store) error {
		removed, err := tx.Posts.Delete(ctx, post.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), removed)
		return tx.Users.UpdatePostsCount(ctx, author.ID, -1)
	})
	require.NoError(t, err)

	gone, err := store.Posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Zero(t, testutil.CountByPost(t, db, &models.Like{}, post.ID))
	assert.Zero(t, testutil.CountByPost(t, db, &models.Comment{}, post.ID))

	reloaded, err := store.Users.GetByID(ctx, author.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.PostsCount)
}

func TestTransactionRollsBack(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()

	a := testutil.CreateUser(t, db, "alice")
	b := testutil.CreateUser(t, db, "bob")

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Follows.Create(ctx, &models.Follow{FollowerID: a.ID, FollowingID: b.ID}); err != nil {
			return err
		}
		if err := tx.Users.UpdateFollowingCount(ctx, a.ID, 1); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ok, err := store.Follows.IsFollowing(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	reloaded, err := store.Users.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.FollowingCount)
}

func TestCommentRepositoryNewestFirst(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	post := testutil.CreatePost(t, db, author, "", time.Now())

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, store.Comments.Create(ctx, &models.Comment{
			PostID:    post.ID,
			UserID:    author.ID,
			Text:      text,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	comments, total, err := store.Comments.ListByPost(ctx, post.ID, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, comments, 2)
	assert.Equal(t, "third", comments[0].Text)
	assert.Equal(t, "second", comments[1].Text)
	assert.Equal(t, "author", comments[0].User.Username)

	removed, err := store.Comments.Delete(ctx, uuid.New(), comments[0].ID)
	require.NoError(t, err)
	assert.Zero(t, removed, "comment must belong to the given post")
}

func TestCounterRowsDetectDrift(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)
	ctx := context.Background()

	a := testutil.CreateUser(t, db, "alice")
	b := testutil.CreateUser(t, db, "bob")
	post := testutil.CreatePost(t, db, a, "hello", time.Now())

	// 只写关系表，不更新计数
	require.NoError(t, store.Follows.Create(ctx, &models.Follow{FollowerID: a.ID, FollowingID: b.ID}))
	require.NoError(t, store.Likes.Create(ctx, &models.Like{PostID: post.ID, UserID: b.ID}))

	rows, err := store.Users.CounterRowsFor(ctx, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.Drifted(), row.Username)
	}

	all, err := store.Users.CounterRows(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	postRow, err := store.Posts.CounterRowFor(ctx, post.ID)
	require.NoError(t, err)
	require.NotNil(t, postRow)
	assert.True(t, postRow.Drifted())
	assert.Equal(t, int64(1), postRow.ActualLikes)

	missing, err := store.Posts.CounterRowFor(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func postIDs(posts []models.Post) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}
