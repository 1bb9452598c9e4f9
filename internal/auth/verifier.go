package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/kindred/internal/model"
)

// BearerVerifier はベアラートークンを検証し呼び出し元を特定する。
// HS256は自前発行トークン、RS256はFirebase IDトークンとして扱う。
type BearerVerifier struct {
	issuer   *TokenIssuer
	firebase *FirebaseVerifier
}

// NewBearerVerifier はBearerVerifierを生成する。
// firebaseがnilの場合はFirebase IDトークンを受け付けない。
func NewBearerVerifier(issuer *TokenIssuer, firebase *FirebaseVerifier) *BearerVerifier {
	return &BearerVerifier{issuer: issuer, firebase: firebase}
}

// VerifyToken はトークンを検証しPrincipalを返す。
func (v *BearerVerifier) VerifyToken(ctx context.Context, token string) (*model.Principal, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch unverified.Method.Alg() {
	case jwt.SigningMethodHS256.Alg():
		if v.issuer == nil {
			break
		}
		claims, err := v.issuer.Verify(token)
		if err != nil {
			return nil, err
		}
		return &model.Principal{
			Subject: claims.Subject,
			UserID:  claims.Subject,
			Phone:   claims.Phone,
		}, nil
	case jwt.SigningMethodRS256.Alg():
		if v.firebase == nil {
			break
		}
		claims, err := v.firebase.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		return &model.Principal{
			Subject: claims.Subject,
			Email:   claims.Email,
			Phone:   claims.PhoneNumber,
		}, nil
	}
	return nil, fmt.Errorf("%w: unsupported algorithm %s", ErrInvalidToken, unverified.Method.Alg())
}
