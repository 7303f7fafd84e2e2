package automation

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// ensureAuthenticated приводит страницу в состояние "вход выполнен".
// Повторов нет: любая ошибка входа завершает запуск.
func (p *Pipeline) ensureAuthenticated(ctx context.Context, page browser.Page, run *runTracker) error {
	if err := page.Navigate(ctx, p.site.LandingURL); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	}

	// баннер cookie рисуется с задержкой
	if err := p.sleep(ctx, p.consentDelay()); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	}
	p.dismissConsent(ctx, page, run)

	_, signedIn, err := page.Find(ctx, p.site.SignedInMarker)
	if err != nil {
		return fmt.Errorf("%w: check signed-in marker: %w", domain.ErrAuthentication, err)
	}
	if signedIn {
		run.event("auth.reused", "")
		run.logger.Debug("Reusing signed-in profile")
		return nil
	}

	if p.credentials.Email == "" || p.credentials.Password == "" {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, domain.ErrCredentialsMissing)
	}

	run.logger.Info("Profile is signed out, logging in")
	if err := p.login(ctx, page); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	}

	run.event("auth.logged_in", "")
	return nil
}

func (p *Pipeline) login(ctx context.Context, page browser.Page) error {
	t := p.timeouts

	loginButton, err := page.WaitText(ctx, p.site.LoginButton, p.site.LoginButtonText, t.Default)
	if err != nil {
		return fmt.Errorf("login button: %w", err)
	}
	if err := loginButton.Click(ctx); err != nil {
		return fmt.Errorf("click login button: %w", err)
	}

	if _, err := page.WaitVisible(ctx, p.site.LoginModal, t.Default); err != nil {
		return fmt.Errorf("login modal: %w", err)
	}

	provider, err := page.WaitText(ctx, p.site.ProviderButton, p.site.ProviderText, t.Default)
	if err != nil {
		return fmt.Errorf("login provider: %w", err)
	}
	if err := provider.Click(ctx); err != nil {
		return fmt.Errorf("click login provider: %w", err)
	}

	if err := p.fillAndContinue(ctx, page, p.site.EmailInput, p.credentials.Email, p.site.EmailNext); err != nil {
		return fmt.Errorf("email step: %w", err)
	}
	if err := p.fillAndContinue(ctx, page, p.site.PasswordInput, p.credentials.Password, p.site.PasswordNext); err != nil {
		return fmt.Errorf("password step: %w", err)
	}

	if err := page.WaitURLContains(ctx, p.site.OriginFragment, t.Login); err != nil {
		return fmt.Errorf("redirect back: %w", err)
	}
	if _, err := page.WaitVisible(ctx, p.site.SignedInMarker, t.Login); err != nil {
		return fmt.Errorf("signed-in marker: %w", err)
	}
	return nil
}

func (p *Pipeline) fillAndContinue(ctx context.Context, page browser.Page, inputSelector, value, nextSelector string) error {
	input, err := page.WaitVisible(ctx, inputSelector, p.timeouts.Login)
	if err != nil {
		return err
	}
	if err := input.Input(ctx, value); err != nil {
		return err
	}
	next, err := page.WaitVisible(ctx, nextSelector, p.timeouts.Default)
	if err != nil {
		return err
	}
	return next.Click(ctx)
}

// dismissConsent закрывает баннер cookie, если он есть. Ошибки только логируются.
func (p *Pipeline) dismissConsent(ctx context.Context, page browser.Page, run *runTracker) {
	overlay, ok, err := page.Find(ctx, p.site.ConsentOverlay)
	if err != nil || !ok {
		return
	}
	accept, ok, err := overlay.Find(ctx, p.site.ConsentAccept)
	if err != nil || !ok {
		return
	}
	if err := accept.Click(ctx); err != nil {
		run.logger.WithError(err).Debug("Failed to dismiss consent banner")
	}
}
