package memory

import "errors"

var (
	errEmptyContent       = errors.New("memory: content must not be empty")
	errNulContent         = errors.New("memory: content must not contain NUL bytes")
	errConfidenceRange    = errors.New("memory: confidence must be in [0,1]")
	errEmbeddingDimension = errors.New("memory: embedding dimension mismatch")
	errEmbeddingNotFinite = errors.New("memory: embedding contains non-finite values")
	errInvalidSessionID   = errors.New("memory: session id is not a valid UUID")
)
