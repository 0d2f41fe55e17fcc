package provider

import (
	"bytes"
	"context"
	"encoding/pem"
	"fmt"
	"path"
	"strings"

	"certdeploy/system/deploy/internal/model"
)

const (
	ExportPemCrt   = "pemcrt"   // 仅站点证书
	ExportPemChain = "pemchain" // 站点证书加中间证书
	ExportPemKey   = "pemkey"   // 仅私钥
	ExportPemFull  = "pemfull"  // 私钥加完整证书链
)

// CertificateExport 把证书按指定格式写到目标路径
type CertificateExport struct{}

func (p *CertificateExport) Definition() model.ProviderDefinition {
	return model.ProviderDefinition{
		ID:          "certificate_export",
		Title:       "Export Certificate",
		Description: "Export the certificate or key as PEM to a local or remote path.",
		SupportedContexts: model.ContextLocalAsService | model.ContextLocalAsUser |
			model.ContextWindowsNetwork | model.ContextSSH,
		SupportsRemoteTarget: true,
		Parameters: []model.ProviderParameter{
			{Key: "path", Name: "Destination File Path", IsRequired: true, Type: "string"},
			{Key: "type", Name: "Export As", IsRequired: true, Type: "dropdown",
				Options:      []string{ExportPemCrt, ExportPemChain, ExportPemKey, ExportPemFull},
				DefaultValue: ExportPemFull},
		},
	}
}

func (p *CertificateExport) Validate(ctx context.Context, params *ExecutionParams) []model.ActionResult {
	out := ValidateParameters(p.Definition(), params.Task)
	if dest, ok := params.Task.Param("path"); ok && strings.ContainsAny(dest, "\x00\n") {
		out = append(out, model.Failure("Destination path contains invalid characters."))
	}
	return out
}

func (p *CertificateExport) Execute(ctx context.Context, params *ExecutionParams) model.ActionResult {
	def := p.Definition()
	dest := params.Param(def, "path")
	exportType := strings.ToLower(params.Param(def, "type"))

	if params.IsPreviewOnly {
		return model.Success(fmt.Sprintf("Would export %s to %s.", exportType, dest))
	}

	certPEM, keyPEM, err := certificateFiles(params.Certificate)
	if err != nil {
		return model.Failure(err.Error())
	}
	content, err := exportContent(exportType, certPEM, keyPEM)
	if err != nil {
		return model.Failure(err.Error())
	}
	if params.Client == nil {
		return model.Failure("No transport available for export.")
	}
	if err := params.Client.CopyFile(ctx, dest, content, 0600); err != nil {
		return model.Failure(fmt.Sprintf("Failed to export certificate to %s: %s", dest, err.Error()))
	}

	params.Log.WithField("dest", dest).WithField("type", exportType).Info("证书导出完成")
	return model.Success(fmt.Sprintf("Exported %s to %s (%s).", exportType, path.Clean(dest), params.Client.Kind()))
}

// exportContent 按导出类型拼装 PEM
func exportContent(exportType string, certPEM, keyPEM []byte) ([]byte, error) {
	leaf, chain := splitChain(certPEM)
	if len(leaf) == 0 {
		return nil, fmt.Errorf("certificate file contains no certificate")
	}

	var buf bytes.Buffer
	switch exportType {
	case ExportPemCrt:
		buf.Write(leaf)
	case ExportPemChain:
		buf.Write(leaf)
		buf.Write(chain)
	case ExportPemKey:
		buf.Write(keyPEM)
	case ExportPemFull:
		buf.Write(keyPEM)
		buf.Write(leaf)
		buf.Write(chain)
	default:
		return nil, fmt.Errorf("unsupported export type: %s", exportType)
	}
	return buf.Bytes(), nil
}

// splitChain 第一张证书为站点证书，其余为中间证书
func splitChain(data []byte) (leaf, chain []byte) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return leaf, chain
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		encoded := pem.EncodeToMemory(block)
		if leaf == nil {
			leaf = encoded
		} else {
			chain = append(chain, encoded...)
		}
	}
}
