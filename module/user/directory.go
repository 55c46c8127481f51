package user

import (
	"context"

	"TProject/tools/errs"
	sec "TProject/tools/security"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// UserCollection 用户集合名。
const UserCollection = "app_user"

type userDoc struct {
	UserID   string `bson:"user_id"`
	Username string `bson:"username"`
	Status   string `bson:"status"`
	Roles    []struct {
		ScopeID    string `bson:"temple_id"`
		CategoryID string `bson:"subcategory_id"`
		Role       string `bson:"role"`
	} `bson:"roles"`
	Groups []string `bson:"groups"`
}

// MongoDirectory 基于 Mongo 用户集合的 Directory 实现。
// 凭证是 HMAC JWT：先验签取 sub，再按 user_id 查记录。
type MongoDirectory struct {
	coll   *mongo.Collection
	secret []byte
}

func NewMongoDirectory(db *mongo.Database, secret []byte) *MongoDirectory {
	return &MongoDirectory{coll: db.Collection(UserCollection), secret: secret}
}

func (d *MongoDirectory) FetchUser(ctx context.Context, credential string) (*CachedUser, error) {
	claims, err := sec.Verify(sec.DefaultOptions(d.secret), credential, "")
	if err != nil {
		return nil, errs.ErrTokenExpired.WrapMsg("verify credential", "err", err)
	}
	uid := claims.UserID()
	if uid == "" {
		return nil, errs.ErrTokenExpired.WrapMsg("credential has no subject")
	}
	return d.fetch(ctx, uid)
}

func (d *MongoDirectory) FetchRoleBindings(ctx context.Context, userID string) ([]RoleBinding, error) {
	u, err := d.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Roles, nil
}

func (d *MongoDirectory) fetch(ctx context.Context, userID string) (*CachedUser, error) {
	var doc userDoc
	err := d.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("user not found", "id", userID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find user", "id", userID)
	}
	u := &CachedUser{
		ID:       doc.UserID,
		Username: doc.Username,
		Status:   doc.Status,
		Groups:   doc.Groups,
	}
	for _, r := range doc.Roles {
		u.Roles = append(u.Roles, RoleBinding{ScopeID: r.ScopeID, CategoryID: r.CategoryID, Role: r.Role})
	}
	return u, nil
}
