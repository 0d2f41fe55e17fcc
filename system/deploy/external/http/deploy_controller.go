package http

import (
	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/core/mvc"
	"certdeploy/pkg/core/result"
	"certdeploy/pkg/core/security"
	"certdeploy/pkg/core/util"
	"certdeploy/pkg/server/credential"
	"certdeploy/system/deploy/api/client"
	"certdeploy/system/deploy/api/dto"
	"certdeploy/system/deploy/internal/app"
	"certdeploy/system/deploy/internal/model"
	"certdeploy/utils"

	"github.com/gofiber/fiber/v2"
)

// DeployController 证书部署后台管理控制器
type DeployController struct {
	app         *app.App
	client      *client.DeployClient
	credentials *credential.Service
	auth        *security.AdminAuth
	log         *logger.Log
	err         *errorc.ErrorBuilder
}

func NewDeployController(app *app.App, deployClient *client.DeployClient, credentials *credential.Service, auth *security.AdminAuth) *DeployController {
	return &DeployController{
		app:         app,
		client:      deployClient,
		credentials: credentials,
		auth:        auth,
		log:         logger.GetLogger().WithEntryName("DeployController"),
		err:         errorc.NewErrorBuilder("DeployController"),
	}
}

// RegisterRoutes 注册部署相关路由
func (c *DeployController) RegisterRoutes(admin fiber.Router) {
	read := c.auth.RequireAdminAuth(security.RoleDeployRead)
	write := c.auth.RequireAdminAuth(security.RoleDeployWrite)

	deploy := admin.Group("/deploy")
	deploy.Get("/providers", read, c.ListProviders)
	deploy.Get("/history", read, c.ListHistory)

	certRouter := deploy.Group("/certificates")
	certRouter.Get("/", read, c.ListCertificates)
	certRouter.Post("/renew", write, c.RenewAll)
	certRouter.Get("/:id", read, c.GetCertificate)
	certRouter.Put("/:id", write, c.SaveCertificate)
	certRouter.Get("/:id/preview", read, c.PreviewRenewal)
	certRouter.Post("/:id/renew", write, c.RenewCertificate)
	certRouter.Post("/:id/deploy", write, c.StoreAndDeploy)
	certRouter.Post("/:id/tasks/run", write, c.RunTask)
	certRouter.Post("/:id/tasks/validate", read, c.ValidateTasks)
	certRouter.Get("/:id/history", read, c.ListHistory)

	credRouter := deploy.Group("/credentials")
	credRouter.Get("/", read, c.ListCredentials)
	credRouter.Post("/", write, c.CreateCredential)
	credRouter.Delete("/:id", write, c.DeleteCredential)
}

// ===== 托管证书 =====

func (c *DeployController) ListCertificates(ctx *fiber.Ctx) error {
	list, err := c.client.ListCertificates(util.Context(ctx))
	return result.Once(ctx, list, err)
}

func (c *DeployController) GetCertificate(ctx *fiber.Ctx) error {
	mc, err := c.app.GetCertificate(util.Context(ctx), ctx.Params("id"))
	return result.Once(ctx, mc, err)
}

// SaveCertificate 任务配置有问题时返回问题列表
func (c *DeployController) SaveCertificate(ctx *fiber.Ctx) error {
	var mc model.ManagedCertificate
	if err := ctx.BodyParser(&mc); err != nil {
		return c.err.New("解析请求参数失败", err).ValidWithCtx()
	}
	mc.ID = ctx.Params("id")

	problems, err := c.app.SaveCertificate(util.Context(ctx), &mc)
	if len(problems) > 0 {
		return ctx.JSON(fiber.Map{
			"status":  errorc.ErrorCodeValidation.Code,
			"message": errorc.ParseError(err).RootCause(),
			"data":    client.ToStepDTOs(problems),
		})
	}
	return result.Once(ctx, &mc, err)
}

// ===== 续期与部署 =====

func (c *DeployController) PreviewRenewal(ctx *fiber.Ctx) error {
	return result.OK(ctx, c.client.PreviewRenewal(util.Context(ctx), ctx.Params("id")))
}

func (c *DeployController) RenewCertificate(ctx *fiber.Ctx) error {
	res := c.client.PerformRenewal(util.Context(ctx), ctx.Params("id"), security.GetAdminAccount(ctx))
	return result.OK(ctx, res)
}

func (c *DeployController) RenewAll(ctx *fiber.Ctx) error {
	var req dto.RenewReq
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return c.err.New("解析请求参数失败", err).ValidWithCtx()
		}
	}
	if msg, err := utils.Validate(req); err != nil {
		return c.err.New(msg, err).ValidWithCtx()
	}

	results, err := c.client.RenewAll(util.Context(ctx), req.CertificateIDs, security.GetAdminAccount(ctx))
	return result.Once(ctx, results, err)
}

func (c *DeployController) StoreAndDeploy(ctx *fiber.Ctx) error {
	var req dto.StoreAndDeployReq
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return c.err.New("解析请求参数失败", err).ValidWithCtx()
		}
	}
	steps := c.client.StoreAndDeploy(util.Context(ctx), ctx.Params("id"), &req, security.GetAdminAccount(ctx))
	return result.OK(ctx, steps)
}

// ===== 部署任务 =====

func (c *DeployController) RunTask(ctx *fiber.Ctx) error {
	var req dto.RunTaskReq
	if err := ctx.BodyParser(&req); err != nil {
		return c.err.New("解析请求参数失败", err).ValidWithCtx()
	}
	if msg, err := utils.Validate(req); err != nil {
		return c.err.New(msg, err).ValidWithCtx()
	}

	steps := c.client.PerformDeploymentTask(util.Context(ctx), ctx.Params("id"), req.TaskID, req.PreviewOnly, security.GetAdminAccount(ctx))
	return result.OK(ctx, steps)
}

// ValidateTasks 请求体为空时校验已保存的配置
func (c *DeployController) ValidateTasks(ctx *fiber.Ctx) error {
	reqCtx := util.Context(ctx)
	var mc *model.ManagedCertificate
	if len(ctx.Body()) > 0 {
		mc = &model.ManagedCertificate{}
		if err := ctx.BodyParser(mc); err != nil {
			return c.err.New("解析请求参数失败", err).ValidWithCtx()
		}
		mc.ID = ctx.Params("id")
	} else {
		stored, err := c.app.GetCertificate(reqCtx, ctx.Params("id"))
		if err != nil {
			return err
		}
		mc = stored
	}
	return result.OK(ctx, client.ToStepDTOs(c.app.ValidateDeploymentTasks(reqCtx, mc)))
}

func (c *DeployController) ListProviders(ctx *fiber.Ctx) error {
	return result.OK(ctx, c.app.ListProviders())
}

func (c *DeployController) ListHistory(ctx *fiber.Ctx) error {
	var page mvc.Page
	if err := ctx.QueryParser(&page); err != nil {
		return c.err.New("解析分页参数失败", err).ValidWithCtx()
	}
	certID := ctx.Params("id", ctx.Query("certificateId"))

	list, total, err := c.client.ListHistory(util.Context(ctx), certID, &page)
	if err != nil {
		return err
	}
	return result.Page(ctx, list, total)
}

// ===== 凭据 =====

func (c *DeployController) ListCredentials(ctx *fiber.Ctx) error {
	list, err := c.credentials.ListCredentials(util.Context(ctx))
	return result.Once(ctx, list, err)
}

func (c *DeployController) CreateCredential(ctx *fiber.Ctx) error {
	var req credential.CredentialCreateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return c.err.New("解析请求参数失败", err).ValidWithCtx()
	}
	if msg, err := utils.Validate(req); err != nil {
		return c.err.New(msg, err).ValidWithCtx()
	}
	req.CreatedBy = security.GetAdminAccount(ctx)

	safe, err := c.credentials.CreateCredential(util.Context(ctx), &req)
	return result.Once(ctx, safe, err)
}

func (c *DeployController) DeleteCredential(ctx *fiber.Ctx) error {
	err := c.credentials.DeleteCredential(util.Context(ctx), ctx.Params("id"))
	return result.Once(ctx, "删除成功", err)
}
