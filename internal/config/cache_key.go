package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SnapshotAnswersKey returns the hash key holding an applicant's staged answers
// (question id → choice id) for one exam.
func (r *CacheKeyStruct) SnapshotAnswersKey(examID string, userID int) string {
	return fmt.Sprintf("applicant:%d:exam:%s:answers", userID, examID)
}

// SnapshotStateKey returns the hash key holding an applicant's cursor and tab count.
func (r *CacheKeyStruct) SnapshotStateKey(examID string, userID int) string {
	return fmt.Sprintf("applicant:%d:exam:%s:state", userID, examID)
}

// SubmitRateKey returns the counter key for an applicant's submission rate window.
func (r *CacheKeyStruct) SubmitRateKey(userID int, window int64) string {
	return fmt.Sprintf("ratelimit:submit:%d:%d", userID, window)
}

var CacheKey = NewCacheKeyStruct()
