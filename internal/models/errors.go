package models

import "errors"

// ErrNotFound indica que o registro pedido não existe no banco
var ErrNotFound = errors.New("registro não encontrado")
