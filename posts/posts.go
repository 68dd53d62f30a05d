// Package posts manages the public review feed: the posts collection, its
// optional images in the blob store, and the per-post comments subcollection
// with a live, display-name-enriched feed.
package posts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookfeedhq/bookfeed-go/backend"
	"github.com/bookfeedhq/bookfeed-go/profile"
	"github.com/bookfeedhq/bookfeed-go/projection"
)

// Collection is the public posts collection.
const Collection = "public-posts"

// Post is a denormalized public post: the raw document plus the author's
// current display name.
type Post struct {
	ID        string
	UserID    string
	UserName  string
	BookTitle string
	Review    string
	ImageURL  string
	CreatedAt time.Time
}

// Comment is a denormalized post comment.
type Comment struct {
	ID        string
	UserID    string
	UserName  string
	Text      string
	CreatedAt time.Time
}

// NewPost carries the fields of a post being created. Image is optional.
type NewPost struct {
	BookTitle string
	Review    string
	Image     []byte
}

// Edit carries a post edit. A nil Image keeps the current one; a non-nil
// Image overwrites the stored blob at the same path.
type Edit struct {
	BookTitle string
	Review    string
	Image     []byte
}

// Service reads and writes public posts.
type Service struct {
	store    backend.DocStore
	blobs    backend.BlobStore
	profiles *profile.Service
	log      *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger. Default slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates a posts service.
func NewService(store backend.DocStore, blobs backend.BlobStore, profiles *profile.Service, opts ...Option) *Service {
	s := &Service{store: store, blobs: blobs, profiles: profiles, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save creates a post for userID, uploading the image first when present.
func (s *Service) Save(ctx context.Context, userID string, in NewPost) error {
	if userID == "" {
		return backend.ErrNoUser
	}

	imageURL := ""
	if len(in.Image) > 0 {
		url, err := s.uploadImage(ctx, userID, in.BookTitle, in.Image)
		if err != nil {
			return err
		}
		imageURL = url
	}

	_, err := s.store.Create(ctx, Collection, map[string]any{
		"user_id":       userID,
		"book_title":    in.BookTitle,
		"review":        in.Review,
		"post_imageURL": imageURL,
		"created_at":    backend.ServerTimestamp,
	})
	if err != nil {
		s.log.Error("saving post failed", slog.String("user_id", userID), slog.String("err", err.Error()))
		return fmt.Errorf("saving post: %w", err)
	}
	return nil
}

// List returns all posts, newest first, with author display names resolved.
// Name resolution is all-or-nothing: a transient profile failure fails the
// whole read rather than returning a partially enriched list.
func (s *Service) List(ctx context.Context) ([]Post, error) {
	docs, err := s.store.Query(ctx, Collection, backend.Query{OrderBy: "created_at", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	return projection.EnrichAll(ctx, docs, s.enrichPost)
}

// ListByUser returns userID's posts, newest first. A user with no posts
// yields a nil slice.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Post, error) {
	if userID == "" {
		return nil, backend.ErrNoUser
	}
	docs, err := s.store.Query(ctx, Collection, backend.Query{
		Where:   []backend.Filter{{Field: "user_id", Equals: userID}},
		OrderBy: "created_at",
		Desc:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing posts for %q: %w", userID, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return projection.EnrichAll(ctx, docs, s.enrichPost)
}

// Get returns one post, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, postID string) (*Post, error) {
	doc, err := s.store.Get(ctx, Collection, postID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading post %q: %w", postID, err)
	}
	p, err := s.enrichPost(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Update applies an edit to an existing post.
func (s *Service) Update(ctx context.Context, userID, postID string, in Edit) error {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return fmt.Errorf("editing post %q: %w", postID, backend.ErrNotFound)
	}

	imageURL := post.ImageURL
	if len(in.Image) > 0 {
		// Same path as the original upload so the old blob is overwritten.
		url, err := s.uploadImage(ctx, userID, in.BookTitle, in.Image)
		if err != nil {
			return err
		}
		imageURL = url
	}

	err = s.store.Update(ctx, Collection, postID, map[string]any{
		"book_title":    in.BookTitle,
		"review":        in.Review,
		"post_imageURL": imageURL,
	})
	if err != nil {
		s.log.Error("editing post failed", slog.String("post_id", postID), slog.String("err", err.Error()))
		return fmt.Errorf("editing post %q: %w", postID, err)
	}
	return nil
}

// AddComment appends a comment by userID to postID.
func (s *Service) AddComment(ctx context.Context, postID, userID, text string) error {
	_, err := s.store.Create(ctx, commentsCollection(postID), map[string]any{
		"comment_user_id": userID,
		"user_comment":    text,
		"created_at":      backend.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("adding comment to %q: %w", postID, err)
	}
	return nil
}

// SubscribeToComments follows postID's comments, oldest first, with
// commenter display names resolved per record. The returned disposer stops
// the feed.
func (s *Service) SubscribeToComments(ctx context.Context, postID string, cb func([]Comment)) (func(), error) {
	return projection.Subscribe(ctx, s.store, commentsCollection(postID),
		backend.Query{OrderBy: "created_at"},
		func(ctx context.Context, doc backend.Document) (Comment, error) {
			name, err := s.profiles.DisplayName(ctx, doc.Str("comment_user_id"))
			if err != nil {
				return Comment{}, err
			}
			return Comment{
				ID:        doc.ID,
				UserID:    doc.Str("comment_user_id"),
				UserName:  name,
				Text:      doc.Str("user_comment"),
				CreatedAt: doc.Time("created_at"),
			}, nil
		},
		cb,
		projection.WithLogger(s.log),
	)
}

func (s *Service) enrichPost(ctx context.Context, doc backend.Document) (Post, error) {
	name, err := s.profiles.DisplayName(ctx, doc.Str("user_id"))
	if err != nil {
		return Post{}, err
	}
	return Post{
		ID:        doc.ID,
		UserID:    doc.Str("user_id"),
		UserName:  name,
		BookTitle: doc.Str("book_title"),
		Review:    doc.Str("review"),
		ImageURL:  doc.Str("post_imageURL"),
		CreatedAt: doc.Time("created_at"),
	}, nil
}

func (s *Service) uploadImage(ctx context.Context, userID, bookTitle string, data []byte) (string, error) {
	path := fmt.Sprintf("%s/%s/%s", Collection, userID, bookTitle)
	if err := s.blobs.Put(ctx, path, data); err != nil {
		s.log.Error("post image upload failed", slog.String("path", path), slog.String("err", err.Error()))
		return "", fmt.Errorf("uploading post image: %w", err)
	}
	url, err := s.blobs.URL(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolving post image url: %w", err)
	}
	return url, nil
}

func commentsCollection(postID string) string {
	return Collection + "/" + postID + "/comments"
}
