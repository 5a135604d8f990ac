package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "test-secret"

func TestGenerateAndValidateJWT(t *testing.T) {
	id := primitive.NewObjectID()
	token, err := GenerateJWT(id, "jan@example.com", "admin", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, id.Hex(), claims.UserID)
	assert.Equal(t, "jan@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, id.Hex(), claims.Subject)
}

func TestValidateJWT_Rejects(t *testing.T) {
	id := primitive.NewObjectID()

	expired, err := GenerateJWT(id, "a@b.pl", "user", testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(expired, testSecret)
	assert.Error(t, err, "expired token")

	valid, err := GenerateJWT(id, "a@b.pl", "user", testSecret, time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(valid, "other-secret")
	assert.Error(t, err, "wrong secret")

	_, err = ValidateJWT("not-a-jwt", testSecret)
	assert.Error(t, err, "garbage")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: id.Hex()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateJWT(unsigned, testSecret)
	assert.Error(t, err, "alg none")
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPasswordWithCost("sekret1", 4)
	require.NoError(t, err)
	assert.NotEqual(t, "sekret1", hash)
	assert.True(t, CheckPasswordHash("sekret1", hash))
	assert.False(t, CheckPasswordHash("sekret2", hash))
	assert.False(t, CheckPasswordHash("sekret1", "not-a-hash"))
}

func TestCanManage(t *testing.T) {
	owner := primitive.NewObjectID()
	other := primitive.NewObjectID()

	assert.True(t, CanManage(&Principal{UserID: owner, Role: "user"}, owner))
	assert.False(t, CanManage(&Principal{UserID: other, Role: "user"}, owner))
	assert.True(t, CanManage(&Principal{UserID: other, Role: "admin"}, owner))
	assert.False(t, CanManage(nil, owner))
	assert.False(t, CanManage(&Principal{Role: "user"}, primitive.NilObjectID))

	var anon *Principal
	assert.False(t, anon.IsAdmin())
}
