package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/ports"
)

const tokenRefScheme = "homiez://"

// TokenRef is where the bearer token for id is kept in the secret store.
func TokenRef(id domain.UserID) string {
	return tokenRefScheme + string(id) + "/token"
}

type AuthService struct {
	rt      *Runtime
	backend ports.Backend
	state   ports.StateRepository
	secrets ports.SecretStore
	clock   ports.Clock
}

func NewAuthService(rt *Runtime, backend ports.Backend, state ports.StateRepository, secrets ports.SecretStore, clock ports.Clock) *AuthService {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &AuthService{
		rt:      rt,
		backend: backend,
		state:   state,
		secrets: secrets,
		clock:   clock,
	}
}

// Token returns the stored bearer token. It returns domain.ErrNotFound when
// nobody is logged in.
func (s *AuthService) Token(ctx context.Context) (string, error) {
	state, err := s.loadState(ctx)
	if err != nil {
		return "", err
	}
	if state.TokenRef == "" {
		return "", domain.ErrNotFound
	}
	token, err := s.secrets.Get(ctx, state.TokenRef)
	if err != nil {
		return "", fmt.Errorf("get bearer token: %w", err)
	}
	return token, nil
}

func (s *AuthService) Login(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	result, err := s.backend.Login(ctx, creds)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("login: %w", err)
	}
	return s.establish(ctx, result)
}

// Signup creates the account and logs into it. When the backend does not
// hand out a token on signup the credentials are used to log in.
func (s *AuthService) Signup(ctx context.Context, req domain.SignupRequest) (domain.Identity, error) {
	result, err := s.backend.Signup(ctx, req)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("signup: %w", err)
	}
	if result.Token == "" {
		return s.Login(ctx, domain.Credentials{Email: req.Email, Password: req.Password})
	}
	return s.establish(ctx, result)
}

func (s *AuthService) establish(ctx context.Context, result domain.LoginResult) (domain.Identity, error) {
	previous, err := s.loadState(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, err
	}

	// The login response may omit the user; the token is enough to ask.
	identity := result.Identity
	pendingRef := TokenRef("pending")
	usedPending := identity.IsZero()
	if usedPending {
		if err := s.persist(ctx, pendingRef, result.Token, domain.Identity{}); err != nil {
			return domain.Identity{}, err
		}
		identity, err = s.backend.Me(ctx)
		if err != nil || identity.IsZero() {
			cleanup := s.clearStored(ctx, pendingRef)
			if err == nil {
				err = domain.ErrUnauthenticated
			}
			return domain.Identity{}, fmt.Errorf("resolve logged in user: %w", errors.Join(err, cleanup))
		}
	}

	ref := TokenRef(identity.ID)
	if err := s.persist(ctx, ref, result.Token, identity); err != nil {
		return domain.Identity{}, err
	}
	if usedPending {
		_ = s.secrets.Delete(ctx, pendingRef)
	}
	if previous.TokenRef != "" && previous.TokenRef != ref {
		if err := s.secrets.Delete(ctx, previous.TokenRef); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.rt.logger.Warn("delete previous bearer token", "ref", previous.TokenRef, "error", err)
		}
	}

	s.rt.Cache.Write(KeyAuthUser, identity)
	if previous.Identity.ID == identity.ID {
		s.rt.Cache.Invalidate(KeyAuthUser)
		return identity, nil
	}
	if err := s.rt.IdentityChanged(ctx, identity); err != nil {
		return identity, err
	}
	return identity, nil
}

// persist stores the token and then the state that points at it. A failed
// state save takes the token back out.
func (s *AuthService) persist(ctx context.Context, ref, token string, identity domain.Identity) error {
	if err := s.secrets.Put(ctx, ref, token); err != nil {
		return fmt.Errorf("store bearer token: %w", err)
	}
	state := domain.ClientState{Identity: identity, TokenRef: ref, SavedAt: s.clock.Now()}
	if err := s.state.Save(ctx, state); err != nil {
		if rollbackErr := s.secrets.Delete(ctx, ref); rollbackErr != nil {
			return fmt.Errorf("save client state and rollback stored token: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("save client state: %w", err)
	}
	return nil
}

func (s *AuthService) clearStored(ctx context.Context, ref string) error {
	var errs []error
	if err := s.secrets.Delete(ctx, ref); err != nil && !errors.Is(err, domain.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete bearer token: %w", err))
	}
	if err := s.state.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear client state: %w", err))
	}
	return errors.Join(errs...)
}

// Logout always ends the local session. The backend is told on a best-effort
// basis.
func (s *AuthService) Logout(ctx context.Context) error {
	state, err := s.loadState(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if state.TokenRef != "" {
		if err := s.backend.Logout(ctx); err != nil {
			s.rt.logger.Debug("backend logout failed", "error", err)
		}
	}

	s.rt.Cache.Remove(KeyAuthUser)

	var errs []error
	if state.TokenRef != "" {
		if err := s.clearStored(ctx, state.TokenRef); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.rt.IdentityChanged(ctx, domain.Identity{}); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("logout: %w", errors.Join(errs...))
	}
	return nil
}

// CurrentIdentity is the logged in user, or the zero Identity when there is
// none. Missing credentials are not an error.
func (s *AuthService) CurrentIdentity(ctx context.Context) (domain.Identity, error) {
	state, err := s.loadState(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, nil
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if state.TokenRef == "" {
		return domain.Identity{}, nil
	}

	identity, _, err := query[domain.Identity](ctx, s.rt.Cache, KeyAuthUser)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("get current user: %w", err)
	}
	if identity.IsZero() {
		return domain.Identity{}, nil
	}
	if identity != state.Identity {
		state.Identity = identity
		state.SavedAt = s.clock.Now()
		if err := s.state.Save(ctx, state); err != nil {
			s.rt.logger.Warn("refresh saved identity", "error", err)
		}
	}
	return identity, nil
}

// RequireIdentity is CurrentIdentity for commands that need a complete
// profile.
func (s *AuthService) RequireIdentity(ctx context.Context) (domain.Identity, error) {
	identity, err := s.CurrentIdentity(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	if identity.IsZero() {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	if !identity.Onboarded {
		return identity, domain.ErrNotOnboarded
	}
	return identity, nil
}

func (s *AuthService) Onboard(ctx context.Context, profile domain.Profile) (domain.Identity, error) {
	if strings.TrimSpace(profile.FullName) == "" {
		return domain.Identity{}, errors.New("full name is required")
	}
	current, err := s.CurrentIdentity(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	if current.IsZero() {
		return domain.Identity{}, domain.ErrUnauthenticated
	}

	updated, err := s.backend.Onboard(ctx, profile)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("onboard: %w", err)
	}
	s.rt.Cache.Invalidate(KeyAuthUser)

	identity, err := s.CurrentIdentity(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	if identity.IsZero() && !updated.IsZero() {
		identity = updated
	}
	return identity, nil
}

func (s *AuthService) loadState(ctx context.Context) (domain.ClientState, error) {
	state, err := s.state.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ClientState{}, domain.ErrNotFound
		}
		return domain.ClientState{}, fmt.Errorf("load client state: %w", err)
	}
	return state, nil
}
