package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"listenparty/internal/domain"
)

// Token claim names shared with the auth middleware.
const (
	ClaimMemberID = "member_id"
	ClaimRoomID   = "room_id"
)

// TokenService signs member tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService creates a TokenService. A non-positive expiry defaults to
// 24 hours.
func NewTokenService(secret string, expiryHours int) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if expiryHours <= 0 {
		expiryHours = 24
	}
	return &TokenService{
		secret: []byte(secret),
		expiry: time.Duration(expiryHours) * time.Hour,
	}, nil
}

// Issue returns a signed token identifying member within its room.
func (s *TokenService) Issue(member domain.RoomMember) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		ClaimMemberID: member.ID,
		ClaimRoomID:   member.RoomID,
		"exp":         now.Add(s.expiry).Unix(),
		"iat":         now.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token issued by Issue and returns its member and room.
func (s *TokenService) Parse(tokenStr string) (memberID, roomID string, err error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("%w: invalid member token", domain.ErrRoomAccess)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("%w: invalid member token", domain.ErrRoomAccess)
	}
	memberID, _ = claims[ClaimMemberID].(string)
	roomID, _ = claims[ClaimRoomID].(string)
	if memberID == "" || roomID == "" {
		return "", "", fmt.Errorf("%w: token carries no membership", domain.ErrRoomAccess)
	}
	return memberID, roomID, nil
}

func hashPasscode(passcode string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to generate hash from passcode: %w", err)
	}
	return string(bytes), nil
}

func checkPasscode(passcode, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)) == nil
}
