package password

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Blacklist es un set de passwords prohibidos (lookup case-insensitive).
type Blacklist struct {
	mu   sync.RWMutex
	data map[string]struct{}
}

// builtin: el top de passwords filtrados más comunes. Un archivo externo
// (LoadBlacklist) los complementa, no los reemplaza.
var builtin = []string{
	"password", "password1", "password123", "123456", "12345678", "123456789",
	"qwerty", "qwerty123", "abc123", "letmein", "welcome", "welcome1",
	"admin", "admin123", "iloveyou", "monkey", "dragon", "sunshine",
	"princess", "football", "baseball", "master", "shadow", "superman",
	"contraseña", "contrasena", "secreto", "hola123",
}

// NewBlacklist crea una blacklist solo con los defaults embebidos.
func NewBlacklist() *Blacklist {
	bl := &Blacklist{data: map[string]struct{}{}}
	for _, s := range builtin {
		bl.data[s] = struct{}{}
	}
	return bl
}

// LoadBlacklist carga una blacklist desde un archivo (una entrada por línea,
// '#' comenta) sumada a los defaults embebidos. Path vacío = solo defaults.
func LoadBlacklist(path string) (*Blacklist, error) {
	bl := NewBlacklist()
	if strings.TrimSpace(path) == "" {
		return bl, nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(strings.ToLower(sc.Text()))
		if s != "" && !strings.HasPrefix(s, "#") {
			bl.data[s] = struct{}{}
		}
	}
	return bl, sc.Err()
}

// Contains indica si pwd está en la lista. Seguro sobre receiver nil.
func (b *Blacklist) Contains(pwd string) bool {
	if b == nil {
		return false
	}
	p := strings.ToLower(strings.TrimSpace(pwd))
	b.mu.RLock()
	_, ok := b.data[p]
	b.mu.RUnlock()
	return ok
}
