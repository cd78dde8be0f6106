package playwright

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

type element struct {
	locator  playwright.Locator
	selector string
}

func (e *element) WaitAttached(ctx context.Context) error {
	err := e.locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: timeoutFrom(ctx, defaultTimeout),
	})
	if err != nil {
		return fmt.Errorf("%s never attached: %w", e.selector, err)
	}
	return nil
}

func (e *element) IsVisible(ctx context.Context) (bool, error) {
	return e.locator.IsVisible()
}

func (e *element) IsEnabled(ctx context.Context) (bool, error) {
	return e.locator.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: timeoutFrom(ctx, defaultTimeout)})
}

func (e *element) Click(ctx context.Context, force bool) error {
	return e.locator.Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(force),
		Timeout: timeoutFrom(ctx, defaultTimeout),
	})
}

func (e *element) Clear(ctx context.Context) error {
	return e.locator.Clear(playwright.LocatorClearOptions{Timeout: timeoutFrom(ctx, defaultTimeout)})
}

func (e *element) Fill(ctx context.Context, value string) error {
	return e.locator.Fill(value, playwright.LocatorFillOptions{Timeout: timeoutFrom(ctx, defaultTimeout)})
}

func (e *element) Value(ctx context.Context) (string, error) {
	return e.locator.InputValue(playwright.LocatorInputValueOptions{Timeout: timeoutFrom(ctx, defaultTimeout)})
}
