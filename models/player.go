package models

import "time"

// Player — участник турнира. Отделён от User: билет покупает
// пользователь, а играть может другой человек.
type Player struct {
	ID        int       `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     *string   `json:"email,omitempty" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (p Player) FullName() string {
	return p.FirstName + " " + p.LastName
}
