package models

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`

	// telegram
	TelegramChatID      int64 `json:"-"`
	NotifyTasksTelegram bool  `json:"-"`
}

// DisplayName falls back to the username when no full name is set.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// ActorOf builds the activity actor for u.
func ActorOf(u *User) Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{ID: u.ID, Username: u.Username, FullName: u.FullName}
}
