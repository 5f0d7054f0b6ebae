// Package sefaz implementa el protocolo SOAP 1.2 de los web services NF-e 4.00:
// tabla cerrada de operaciones, construcción del envelope y de los mensajes,
// extracción tolerante de las respuestas y el cliente HTTPS con mTLS.
package sefaz

import "fmt"

// Operation identifica una operación del web service de la SEFAZ.
type Operation int

const (
	OpSubmitBatch Operation = iota
	OpQueryBatch
	OpQueryDocument
	OpQueryServiceStatus
	OpSubmitEvent

	operationCount
)

// OperationSpec servicio, namespace y método SOAP de una operación.
type OperationSpec struct {
	Name      string
	Service   string
	Namespace string
	Method    string
}

const wsdlBase = "http://www.portalfiscal.inf.br/nfe/wsdl/"

var operations = [...]OperationSpec{
	OpSubmitBatch: {
		Name:      "submit-batch",
		Service:   "NFeAutorizacao4",
		Namespace: wsdlBase + "NFeAutorizacao4",
		Method:    "nfeAutorizacaoLote",
	},
	OpQueryBatch: {
		Name:      "query-batch",
		Service:   "NFeRetAutorizacao4",
		Namespace: wsdlBase + "NFeRetAutorizacao4",
		Method:    "nfeRetAutorizacaoLote",
	},
	OpQueryDocument: {
		Name:      "query-document",
		Service:   "NFeConsultaProtocolo4",
		Namespace: wsdlBase + "NFeConsultaProtocolo4",
		Method:    "nfeConsultaNF",
	},
	OpQueryServiceStatus: {
		Name:      "query-service-status",
		Service:   "NFeStatusServico4",
		Namespace: wsdlBase + "NFeStatusServico4",
		Method:    "nfeStatusServicoNF",
	},
	OpSubmitEvent: {
		Name:      "submit-event",
		Service:   "NFeRecepcaoEvento4",
		Namespace: wsdlBase + "NFeRecepcaoEvento4",
		Method:    "nfeRecepcaoEvento",
	},
}

// La tabla debe tener exactamente una entrada por operación; si se agrega una
// operación sin su entrada (o viceversa) no compila.
var (
	_ [len(operations) - int(operationCount)]struct{}
	_ [int(operationCount) - len(operations)]struct{}
)

// Operations devuelve todas las operaciones en orden.
func Operations() []Operation {
	ops := make([]Operation, 0, operationCount)
	for op := Operation(0); op < operationCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// Valid indica si op pertenece a la tabla.
func (op Operation) Valid() bool {
	return op >= 0 && op < operationCount
}

// Spec devuelve la entrada de la tabla para op.
func (op Operation) Spec() (OperationSpec, error) {
	if !op.Valid() {
		return OperationSpec{}, fmt.Errorf("sefaz: operación desconocida %d", int(op))
	}
	return operations[op], nil
}

func (op Operation) String() string {
	if !op.Valid() {
		return fmt.Sprintf("Operation(%d)", int(op))
	}
	return operations[op].Name
}

// SOAPAction = namespace + "/" + método.
func (op Operation) SOAPAction() string {
	if !op.Valid() {
		return ""
	}
	return operations[op].Namespace + "/" + operations[op].Method
}
