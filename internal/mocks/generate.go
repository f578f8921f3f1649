// Package mocks provides mock implementations for testing the lumiscan job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the collaborator ports in internal/core. The mocks are generated with
// go:generate directives and provide a fluent API for setting up test
// expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockProvider := mocks.NewMockGenerationProvider(ctrl)
//	mockProvider.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return("req-1", nil)
package mocks

// Generate mock for GenerationProvider interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=generation_provider_mock.go github.com/lumiscan/lumiscan-api/internal/core GenerationProvider

// Generate mock for RelevanceScorer interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=relevance_scorer_mock.go github.com/lumiscan/lumiscan-api/internal/core RelevanceScorer
