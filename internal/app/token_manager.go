package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

const (
	timeFormat       = "2006-01-02 15:04:05"
	chatCourseKeyTpl = "chat:%d" // chat:${chatID}
	tokenPrefix      = "sk-ptbll-"
)

var ErrNoChatMapping = errors.New("chat is not bound to a course")

// TokenManager issues API tokens and keeps chat to course bindings in redis.
type TokenManager struct {
	redis       *redis.Client
	keyTemplate string
}

func NewTokenManager(redis *redis.Client, keyTemplate string) *TokenManager {
	return &TokenManager{redis: redis, keyTemplate: keyTemplate}
}

func generateToken() (string, error) {
	randomBytes := make([]byte, 12)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return tokenPrefix + hex.EncodeToString(randomBytes), nil
}

// FetchOrCreateClientToken returns the client's token, creating it on first
// request. The boolean reports whether a new token was issued.
func (tm *TokenManager) FetchOrCreateClientToken(ctx context.Context, client string) (*models.TokenInfo, bool, error) {
	key := tokenKey(tm.keyTemplate, client)

	token, err := tm.redis.HGet(ctx, key, "token").Result()
	if err != nil && err != redis.Nil {
		return nil, false, fmt.Errorf("failed to check token: %w", err)
	}

	now := time.Now().UTC()
	isNewToken := false

	if err == redis.Nil {
		token, err = generateToken()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate token: %w", err)
		}

		created, err := tm.redis.HSetNX(ctx, key, "token", token).Result()
		if err != nil {
			return nil, false, fmt.Errorf("failed to create token: %w", err)
		}
		if created {
			isNewToken = true
			err = tm.redis.HSet(ctx, key, map[string]interface{}{
				"request_count":         0,
				"last_request_dttm_utc": now.Format(timeFormat),
				"created_dttm_utc":      now.Format(timeFormat),
			}).Err()
			if err != nil {
				return nil, false, fmt.Errorf("failed to create token: %w", err)
			}
		}
	} else {
		if err := tm.redis.HSet(ctx, key, "last_request_dttm_utc", now.Format(timeFormat)).Err(); err != nil {
			return nil, false, fmt.Errorf("failed to update token stats: %w", err)
		}
	}

	values, err := tm.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get token info: %w", err)
	}

	lastReqTime, _ := time.Parse(timeFormat, values["last_request_dttm_utc"])
	createdTime, _ := time.Parse(timeFormat, values["created_dttm_utc"])
	reqCount, _ := strconv.Atoi(values["request_count"])

	return &models.TokenInfo{
		Client:          client,
		Token:           values["token"],
		RequestCount:    reqCount,
		LastRequestTime: lastReqTime,
		CreatedTime:     createdTime,
	}, isNewToken, nil
}

func (tm *TokenManager) AssociateChatWithCourse(ctx context.Context, chatID int64, mapping *models.ChatCourseMapping) error {
	key := fmt.Sprintf(chatCourseKeyTpl, chatID)
	return tm.redis.HSet(ctx, key, map[string]interface{}{
		"course_id":           mapping.CourseID,
		"name":                mapping.Name,
		"associated_dttm_utc": mapping.AssociationTime.UTC().Format(timeFormat),
		"registered_by":       mapping.RegisteredBy,
	}).Err()
}

func (tm *TokenManager) FetchCourseByChatID(ctx context.Context, chatID int64) (*models.ChatCourseMapping, error) {
	key := fmt.Sprintf(chatCourseKeyTpl, chatID)

	values, err := tm.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch course of chat %d: %w", chatID, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrNoChatMapping)
	}

	courseID, err := strconv.ParseInt(values["course_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt course mapping of chat %d: %w", chatID, err)
	}
	associationTime, _ := time.Parse(timeFormat, values["associated_dttm_utc"])
	registeredBy, _ := strconv.ParseInt(values["registered_by"], 10, 64)

	return &models.ChatCourseMapping{
		CourseID:        courseID,
		Name:            values["name"],
		AssociationTime: associationTime,
		RegisteredBy:    registeredBy,
	}, nil
}

func (tm *TokenManager) Close() error {
	if tm.redis != nil {
		return tm.redis.Close()
	}
	return nil
}
