package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// Field bounds shared by validation and the store.
const (
	MaxHashtagLen     = 50
	MaxTextContentLen = 1000
	MaxBioLen         = 500
	MaxPhoneLen       = 20
	MinPasswordLen    = 5
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64     `bun:",pk,autoincrement" json:"id"`
	Email        string    `bun:",unique,notnull" json:"email"`
	PasswordHash string    `bun:",notnull" json:"-"`
	FirstName    string    `bun:",notnull,default:''" json:"first_name"`
	LastName     string    `bun:",notnull,default:''" json:"last_name"`
	IsStaff      bool      `bun:",notnull,default:false" json:"is_staff"`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Profile is the public face of a user. Posts, comments, likes and follows
// all reference profiles, not users.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:pr"`

	ID             int64  `bun:",pk,autoincrement" json:"id"`
	UserID         int64  `bun:",unique,notnull" json:"user_id"`
	User           *User  `bun:"rel:belongs-to,join:user_id=id" json:"-"`
	ProfilePicture string `bun:",notnull,default:''" json:"profile_picture,omitempty"`
	Bio            string `bun:",notnull,default:''" json:"bio,omitempty"`
	Website        string `bun:",notnull,default:''" json:"website,omitempty"`
	PhoneNumber    string `bun:",notnull,default:''" json:"phone_number,omitempty"`
	Sex            string `bun:",notnull,default:''" json:"sex"`
}

// Sex values accepted on profiles.
const (
	SexMale   = "M"
	SexFemale = "F"
)

// Follow is a directed edge: FollowerID follows FolloweeID.
type Follow struct {
	bun.BaseModel `bun:"table:follows,alias:f"`

	ID         int64     `bun:",pk,autoincrement"`
	FollowerID int64     `bun:",notnull"`
	FolloweeID int64     `bun:",notnull"`
	CreatedAt  time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	ID              int64     `bun:",pk,autoincrement" json:"id"`
	AuthorID        int64     `bun:",notnull" json:"author_id"`
	Author          *Profile  `bun:"rel:belongs-to,join:author_id=id" json:"-"`
	Hashtag         string    `bun:",notnull,default:''" json:"hashtag"`
	TextContent     string    `bun:",notnull,default:''" json:"text_content"`
	MediaAttachment string    `bun:",notnull,default:''" json:"media_attachment,omitempty"`
	CreatedAt       time.Time `bun:",notnull" json:"created_at"`
}

// NewPost carries the fields needed to create a post.
type NewPost struct {
	AuthorID        int64
	Hashtag         string
	TextContent     string
	MediaAttachment string
}

type Comment struct {
	bun.BaseModel `bun:"table:comments,alias:c"`

	ID          int64     `bun:",pk,autoincrement" json:"id"`
	PostID      int64     `bun:",notnull" json:"post_id"`
	AuthorID    int64     `bun:",notnull" json:"author_id"`
	TextContent string    `bun:",notnull" json:"text_content"`
	CreatedAt   time.Time `bun:",notnull" json:"created_at"`
}

type Like struct {
	bun.BaseModel `bun:"table:likes,alias:l"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	PostID    int64     `bun:",notnull" json:"post_id"`
	AuthorID  int64     `bun:",notnull" json:"author_id"`
	CreatedAt time.Time `bun:",notnull" json:"created_at"`
}
