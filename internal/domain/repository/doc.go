// Package repository define las entidades del dominio de autenticación y las
// interfaces de acceso a datos que consumen los services.
//
// Las implementaciones viven en internal/store (pg para producción, memory
// para tests). Los services dependen solo de estas interfaces: la persistencia
// es un colaborador externo del core.
//
// Convenciones:
//   - "no existe" se señala con ErrNotFound, nunca con (nil, nil).
//   - Los emails se normalizan a minúsculas antes de tocar el repositorio.
//   - Los secretos (passwords de bind, secretos TOTP, client secrets) se
//     persisten cifrados; el cifrado es responsabilidad del service, no del store.
package repository
