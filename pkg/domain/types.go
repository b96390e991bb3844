// Package domain holds the entities shared by the course marketplace: users,
// courses (products), modules, lessons and the per-module access grants that
// decide what a user may open.
package domain

import "time"

// Role is fixed when a user registers
type Role string

const (
	RoleUser   Role = "USER"
	RoleSeller Role = "VENDEDOR"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSeller
}

// CategoryUncategorized is the catalog bucket for courses without a category
const CategoryUncategorized = "Uncategorized"

// User represents a registered account
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`

	// AccessibleCourseIDs is derived from the user's grants and recomputed on
	// every access mutation. It is never authoritative.
	AccessibleCourseIDs []int64 `json:"accessibleCourseIds"`
}

// PublicUser is the shape returned to other users
type PublicUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Public strips the credential and cache fields
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Attachments are blob references stored on a course
type Attachments struct {
	ImageURL string `json:"imageUrl,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
	PDFURL   string `json:"pdfUrl,omitempty"`
}

// Course is a product sold by exactly one seller
type Course struct {
	ID          int64       `json:"id"`
	SellerID    int64       `json:"userId"`
	SellerName  string      `json:"sellerName,omitempty"`
	Name        string      `json:"name"`
	Category    string      `json:"category,omitempty"`
	Description string      `json:"description,omitempty"`
	Attachments Attachments `json:"attachments"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	// UserAccessIDs is derived from grants on the course's modules
	UserAccessIDs []int64 `json:"userAccessIds"`
}

// CategoryOrDefault returns the catalog bucket for the course
func (c *Course) CategoryOrDefault() string {
	if c.Category == "" {
		return CategoryUncategorized
	}
	return c.Category
}

// Module groups lessons inside a course
type Module struct {
	ID        int64     `json:"id"`
	CourseID  int64     `json:"courseId"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// Lesson belongs to a module
type Lesson struct {
	ID        int64     `json:"id"`
	ModuleID  int64     `json:"moduleId"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	VideoURL  string    `json:"videoUrl,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessGrant gives one user access to one module. The pair is unique.
type AccessGrant struct {
	UserID    int64     `json:"userId"`
	ModuleID  int64     `json:"moduleId"`
	CourseID  int64     `json:"courseId"`
	GrantedAt time.Time `json:"granted_at"`
}
