package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/model"
	"github.com/sakif/chatcode/internal/repository"
)

// FlowStage is the last stage an OAuth login attempt reached.
//
//	StateIssued → StateValidated → CodeExchanged → ProfileFetched
//	            → UserResolved → SessionEstablished
type FlowStage int

const (
	StageStateIssued FlowStage = iota
	StageStateValidated
	StageCodeExchanged
	StageProfileFetched
	StageUserResolved
	StageSessionEstablished
)

func (s FlowStage) String() string {
	switch s {
	case StageStateIssued:
		return "state_issued"
	case StageStateValidated:
		return "state_validated"
	case StageCodeExchanged:
		return "code_exchanged"
	case StageProfileFetched:
		return "profile_fetched"
	case StageUserResolved:
		return "user_resolved"
	case StageSessionEstablished:
		return "session_established"
	default:
		return "unknown"
	}
}

// FlowError reports a failed login attempt together with the stage it was
// in. Err wraps one of apperror.ErrConfiguration, ErrInvalidState,
// ErrOAuthExchange, ErrOAuthProfile or ErrResolution.
type FlowError struct {
	Provider string
	Stage    FlowStage
	Err      error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("oauth %s failed at %s: %v", e.Provider, e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// LoginResult is a completed OAuth login.
type LoginResult struct {
	User    *model.User
	Token   string
	Outcome Outcome

	// NeedsProfile is set for a freshly created account without a phone
	// number; the handler sends it to /profile instead of /dashboard.
	NeedsProfile bool
}

// OAuthService drives the authorization-code flow for every configured
// provider. Provider HTTP calls happen outside any transaction; only the
// resolution step touches the database.
type OAuthService struct {
	providers *auth.Registry
	states    auth.StateStore
	resolver  *IdentityResolver
	store     repository.Store
	tokens    *auth.TokenService
	logger    *slog.Logger
}

func NewOAuthService(
	providers *auth.Registry,
	states auth.StateStore,
	resolver *IdentityResolver,
	store repository.Store,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *OAuthService {
	return &OAuthService{
		providers: providers,
		states:    states,
		resolver:  resolver,
		store:     store,
		tokens:    tokens,
		logger:    logger,
	}
}

// Providers lists the configured provider names for the login page.
func (s *OAuthService) Providers() []string {
	return s.providers.Names()
}

// BeginLogin issues a state token for provider and returns the URL to send
// the browser to, along with the state so the caller can bind it to the
// browser with a cookie.
func (s *OAuthService) BeginLogin(ctx context.Context, provider string) (authURL, state string, err error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return "", "", s.fail(provider, StageStateIssued, err)
	}

	state, err = s.states.Issue(ctx, provider)
	if err != nil {
		return "", "", s.fail(provider, StageStateIssued, apperror.OAuth(apperror.ErrInvalidState, err))
	}

	authURL, err = p.AuthURL(state)
	if err != nil {
		return "", "", s.fail(provider, StageStateIssued, err)
	}
	return authURL, state, nil
}

// CompleteLogin handles the provider callback: it consumes the state,
// exchanges the code, fetches the profile, resolves the account and
// issues a session token. The state is checked before any network call,
// so a forged callback never reaches the provider.
func (s *OAuthService) CompleteLogin(ctx context.Context, provider, code, state string) (*LoginResult, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, s.fail(provider, StageStateIssued, err)
	}

	if err := s.states.ValidateAndConsume(ctx, state, provider); err != nil {
		if !errors.Is(err, apperror.ErrInvalidState) {
			err = apperror.OAuth(apperror.ErrInvalidState, err)
		}
		return nil, s.fail(provider, StageStateIssued, err)
	}

	token, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, s.fail(provider, StageStateValidated, err)
	}

	profile, err := p.FetchProfile(ctx, token)
	if err != nil {
		return nil, s.fail(provider, StageCodeExchanged, err)
	}

	res, err := s.resolver.Resolve(ctx, s.store, profile)
	if err != nil {
		return nil, s.fail(provider, StageProfileFetched, err)
	}

	session, err := s.tokens.Generate(res.User.ID)
	if err != nil {
		return nil, s.fail(provider, StageUserResolved,
			apperror.OAuth(apperror.ErrResolution, fmt.Errorf("issuing session: %w", err)))
	}

	return &LoginResult{
		User:         res.User,
		Token:        session,
		Outcome:      res.Outcome,
		NeedsProfile: res.Outcome == OutcomeCreated && res.User.PhoneNumber == "",
	}, nil
}

// fail logs the failure with its stage and wraps it. Tokens and codes are
// never logged.
func (s *OAuthService) fail(provider string, stage FlowStage, err error) *FlowError {
	s.logger.Warn("oauth login failed",
		slog.String("provider", provider),
		slog.String("stage", stage.String()),
		slog.String("error", err.Error()),
	)
	return &FlowError{Provider: provider, Stage: stage, Err: err}
}
