package automation

import "time"

// Site описывает контракт с DOM сайта доставки: адреса, селекторы и тексты.
// Селекторы совпадают с разметкой сайта побайтно, менять их можно только вместе с сайтом.
type Site struct {
	LandingURL     string
	RestaurantsURL string
	// OriginFragment: подстрока адреса, по которой видно возвращение с провайдера входа.
	OriginFragment string
	CheckoutSuffix string

	SignedInMarker string
	ConsentOverlay string
	ConsentAccept  string

	LoginButton     string
	LoginButtonText string
	LoginModal      string
	ProviderButton  string
	ProviderText    string
	EmailInput      string
	EmailNext       string
	PasswordInput   string
	PasswordNext    string

	RestaurantCard string
	RestaurantName string
	RestaurantLink string
	OpenMarker     string
	OpenMarkerText string

	MealCard  string
	MealName  string
	MealImage string

	ProductSubmit   string
	CartButton      string
	SendOrderButton string
	OrderStatus     string
}

// DefaultSite возвращает контракт для wolt.com.
func DefaultSite() Site {
	return Site{
		LandingURL:     "https://wolt.com/en/discovery",
		RestaurantsURL: "https://wolt.com/en/discovery/restaurants",
		OriginFragment: "wolt.com",
		CheckoutSuffix: "/checkout",

		SignedInMarker: "button[data-test-id='UserStatusDropdown']",
		ConsentOverlay: ".ConsentsBannerOverlay",
		ConsentAccept:  "button[data-localization-key='gdpr-consents.banner.accept-button']",

		LoginButton:     "button",
		LoginButtonText: "Log in",
		LoginModal:      "div[data-test-id='modal-background']",
		ProviderButton:  "button",
		ProviderText:    "Continue with Google",
		EmailInput:      `input[type="email"]`,
		EmailNext:       "#identifierNext",
		PasswordInput:   `input[type="password"]`,
		PasswordNext:    "#passwordNext",

		RestaurantCard: "div.cb-elevated",
		RestaurantName: "h3",
		RestaurantLink: "a",
		OpenMarker:     "div",
		OpenMarkerText: "min",

		MealCard:  "div[data-test-id='horizontal-item-card']",
		MealName:  "h3",
		MealImage: "img",

		ProductSubmit:   "button[data-test-id='product-modal.submit']",
		CartButton:      "button[data-test-id='cart-view-button']",
		SendOrderButton: "button[data-test-id='BackendPricing.SendOrderButton']",
		OrderStatus:     "div[data-test-id='OrderStatus']",
	}
}

// Timeouts ограничивает каждое ожидание на странице.
type Timeouts struct {
	Default time.Duration
	Listing time.Duration
	Modal   time.Duration
	Cart    time.Duration
	Login   time.Duration
	// ConsentDelayMin/Max: случайная пауза перед проверкой баннера cookie.
	ConsentDelayMin time.Duration
	ConsentDelayMax time.Duration
	// StatusAttempts: сколько раз ждать статус заказа после единственного клика.
	StatusAttempts int
}

// DefaultTimeouts возвращает ограничения ожиданий по умолчанию.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:         12 * time.Second,
		Listing:         10 * time.Second,
		Modal:           5 * time.Second,
		Cart:            5 * time.Second,
		Login:           30 * time.Second,
		ConsentDelayMin: 1700 * time.Millisecond,
		ConsentDelayMax: 1800 * time.Millisecond,
		StatusAttempts:  2,
	}
}
