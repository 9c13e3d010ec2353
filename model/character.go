package model

import "time"

// Starting combat values for a new character.
const (
	DefaultMaxHP   = 100
	DefaultMaxMP   = 50
	DefaultAttack  = 10
	DefaultDefense = 5
	DefaultSpeed   = 5.0
)

// Character is the live combat state of one character.
// HP <= MaxHP and MP <= MaxMP at all times; HP == 0 implies !Alive.
type Character struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	Level     int       `gorm:"not null" json:"level"`
	Exp       int64     `gorm:"not null" json:"exp"`
	HP        int       `gorm:"not null" json:"hp"`
	MaxHP     int       `gorm:"not null" json:"max_hp"`
	MP        int       `gorm:"not null" json:"mp"`
	MaxMP     int       `gorm:"not null" json:"max_mp"`
	Atk       int       `gorm:"not null" json:"atk"`
	Def       int       `gorm:"not null" json:"def"`
	Speed     float64   `gorm:"not null" json:"speed"`
	Alive     bool      `gorm:"not null" json:"alive"`
	X         float64   `gorm:"not null" json:"x"`
	Y         float64   `gorm:"not null" json:"y"`
	Rotation  float64   `gorm:"not null" json:"rotation"` // degrees
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewCharacter returns a level 1 character with the starting combat values.
func NewCharacter(name string) *Character {
	return &Character{
		Name:  name,
		Level: 1,
		HP:    DefaultMaxHP, MaxHP: DefaultMaxHP,
		MP:    DefaultMaxMP, MaxMP: DefaultMaxMP,
		Atk:   DefaultAttack,
		Def:   DefaultDefense,
		Speed: DefaultSpeed,
		Alive: true,
	}
}
