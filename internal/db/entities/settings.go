package entities

// NotificationSettings toggles the delivery channels.
type NotificationSettings struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// AlertThresholds tune when alerts are raised. NDVIDrop is a fraction,
// ConfidenceMin a percentage.
type AlertThresholds struct {
	NDVIDrop      float64 `json:"ndviDrop"`
	ConfidenceMin float64 `json:"confidenceMin"`
}

// UserSettings is the single preferences row of a user.
type UserSettings struct {
	UserID          string               `json:"userId"`
	Notifications   NotificationSettings `json:"notifications"`
	AlertThresholds AlertThresholds      `json:"alertThresholds"`
	Language        string               `json:"language"`
	Timezone        string               `json:"timezone"`
}

// DefaultSettings returns the preferences a user has before changing any.
// They mirror the column defaults of user_settings.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID: userID,
		Notifications: NotificationSettings{
			Email: true,
			SMS:   true,
			Push:  true,
		},
		AlertThresholds: AlertThresholds{
			NDVIDrop:      0.15,
			ConfidenceMin: 70,
		},
		Language: "en",
		Timezone: "Asia/Shanghai",
	}
}

type NotificationsUpdate struct {
	Email *bool `json:"email,omitempty"`
	SMS   *bool `json:"sms,omitempty"`
	Push  *bool `json:"push,omitempty"`
}

type ThresholdsUpdate struct {
	NDVIDrop      *float64 `json:"ndviDrop,omitempty"`
	ConfidenceMin *float64 `json:"confidenceMin,omitempty"`
}

// SettingsUpdate carries the nested settings to change; nil means untouched.
type SettingsUpdate struct {
	Notifications   *NotificationsUpdate `json:"notifications,omitempty"`
	AlertThresholds *ThresholdsUpdate    `json:"alertThresholds,omitempty"`
	Language        *string              `json:"language,omitempty"`
	Timezone        *string              `json:"timezone,omitempty"`
}

// IsEmpty reports whether no leaf field was supplied.
func (u SettingsUpdate) IsEmpty() bool {
	if u.Language != nil || u.Timezone != nil {
		return false
	}
	if n := u.Notifications; n != nil && (n.Email != nil || n.SMS != nil || n.Push != nil) {
		return false
	}
	if a := u.AlertThresholds; a != nil && (a.NDVIDrop != nil || a.ConfidenceMin != nil) {
		return false
	}
	return true
}
